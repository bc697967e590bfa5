// Package mealplan manages per-date meal plans built from saved recipes and
// custom entries.
package mealplan

import (
	"time"

	"github.com/google/uuid"

	"mealsnap/internal/recipe"
)

// MealTime is the slot a meal occupies within a day.
type MealTime string

const (
	Breakfast MealTime = "breakfast"
	Snack     MealTime = "snack"
	Lunch     MealTime = "lunch"
	Dinner    MealTime = "dinner"
)

// Valid reports whether t is a known meal time.
func (t MealTime) Valid() bool {
	switch t {
	case Breakfast, Snack, Lunch, Dinner:
		return true
	}
	return false
}

// Meal is one entry of a day's plan. RecipeID is empty for custom meals.
type Meal struct {
	ID           string           `json:"id"`
	Time         MealTime         `json:"time"`
	Title        string           `json:"title"`
	Ingredients  []string         `json:"ingredients"`
	Instructions string           `json:"instructions,omitempty"`
	Nutrition    recipe.Nutrition `json:"nutrition"`
	RecipeID     string           `json:"recipeId,omitempty"`
	IsCustom     bool             `json:"isCustom"`
}

// Plan is one user's meal plan for one date.
type Plan struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Date      time.Time `json:"date"`
	Meals     []Meal    `json:"meals"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
