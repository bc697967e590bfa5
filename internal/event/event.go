// Package event implements the durable step runner that chains the pipeline
// stages: named events persisted before dispatch, registered handlers invoked
// with a step helper, per-step retry with backoff, and non-retriable error
// classification that halts a chain permanently.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Pipeline event names.
const (
	IngredientDetect = "ingredient/detect"
	RecipeGenerate   = "recipe/generate"
	NutritionAnalyze = "nutrition/analyze"
)

// Event statuses as persisted in the event store.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Event is one named message on the bus. The correlation id is minted at the
// entry point and carried on every event of a pipeline run, so a failed late
// stage can be traced back to its originating upload.
type Event struct {
	ID            uuid.UUID       `db:"id"`
	Name          string          `db:"name"`
	CorrelationID uuid.UUID       `db:"correlation_id"`
	Data          json.RawMessage `db:"payload"`
	Status        string          `db:"status"`
	Attempts      int             `db:"attempts"`
	LastError     string          `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// DetectPayload is the payload of an ingredient/detect event.
type DetectPayload struct {
	ImagePath string `json:"imagePath"`
	UserID    string `json:"userId"`
	DishName  string `json:"dishName,omitempty"`
}

// GeneratePayload is the payload of a recipe/generate event.
type GeneratePayload struct {
	Ingredients  []string       `json:"ingredients"`
	DietaryPrefs map[string]any `json:"dietaryPrefs"`
	UserID       string         `json:"userId"`
	DishName     string         `json:"dishName,omitempty"`
}

// AnalyzePayload is the payload of a nutrition/analyze event.
type AnalyzePayload struct {
	Ingredients  []string `json:"ingredients"`
	Instructions string   `json:"instructions"`
	TempRecipeID string   `json:"tempRecipeId"`
	UserID       string   `json:"userId"`
	UserDBID     string   `json:"userDbId"`
	DishName     string   `json:"dishName,omitempty"`
}
