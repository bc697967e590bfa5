// Package recipe manages finished recipes and their nutrition profiles.
package recipe

import (
	"time"

	"github.com/google/uuid"
)

// Nutrition is the per-recipe macro estimate. Values the analyzer could not
// determine stay zero.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// Recipe is a persisted recipe belonging to one user.
type Recipe struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	Title        string    `json:"title"`
	Ingredients  []string  `json:"ingredients"`
	Instructions string    `json:"instructions"`
	Nutrition    Nutrition `json:"nutrition"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
