// Package pipeline implements the three recipe-pipeline stages: ingredient
// detection from an uploaded photo, recipe generation, and nutrition
// analysis with final persistence. Stages hand off to each other through
// events; each stage runs as a sequence of named, independently retried
// steps so a crash mid-stage does not repeat committed work.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealsnap/internal/event"
	"mealsnap/internal/platform/ai"
	"mealsnap/internal/recipe"
	"mealsnap/internal/shopping"
	"mealsnap/internal/user"
)

// AIGateway is the model access the stages need.
type AIGateway interface {
	Vision(ctx context.Context, prompt string, imageData []byte) (string, error)
	Text(ctx context.Context, req ai.TextRequest) (string, error)
}

// UserStore resolves pipeline users by their external identity.
type UserStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*user.User, error)
}

// RecipeStore persists the pipeline's final output.
type RecipeStore interface {
	Create(ctx context.Context, r *recipe.Recipe) error
}

// ShoppingLists receives the finished recipe's ingredient group.
type ShoppingLists interface {
	AddRecipeItems(ctx context.Context, userID uuid.UUID, g shopping.Group) (*shopping.List, error)
}

// Stages bundles the three stage handlers and their dependencies.
type Stages struct {
	AI       AIGateway
	Users    UserStore
	Recipes  RecipeStore
	Shopping ShoppingLists
	Logger   *zap.Logger
}

// Register installs the stage handlers on the bus.
func (st *Stages) Register(bus *event.Bus) {
	bus.Register(event.IngredientDetect, st.DetectIngredients)
	bus.Register(event.RecipeGenerate, st.GenerateRecipe)
	bus.Register(event.NutritionAnalyze, st.AnalyzeNutrition)
}
