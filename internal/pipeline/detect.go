package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"go.uber.org/zap"

	"mealsnap/internal/event"
	"mealsnap/internal/user"
)

const detectPrompt = "List the food ingredients you see in this image. Only return a comma-separated list of ingredient names, with no other text."

// DetectIngredients handles ingredient/detect: it reads the uploaded image,
// asks the vision model for a comma-separated ingredient list, and triggers
// recipe generation when at least one ingredient was found. An empty
// detection is an accepted terminal outcome, not an error.
func (st *Stages) DetectIngredients(ctx context.Context, evt event.Event, step *event.Step) (any, error) {
	var p event.DetectPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return nil, event.NonRetriable("invalid ingredient/detect payload", err)
	}

	u, err := event.Run(ctx, step, "check-if-user-exists", func(ctx context.Context) (*user.User, error) {
		u, err := st.Users.GetByExternalID(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, event.NonRetriable("User does not exist in database", nil)
		}
		return u, nil
	})
	if err != nil {
		return nil, err
	}

	imageData, err := event.Run(ctx, step, "read-image-file", func(ctx context.Context) ([]byte, error) {
		return os.ReadFile(p.ImagePath)
	})
	if err != nil {
		return nil, err
	}

	text, err := event.Run(ctx, step, "call-vision-model", func(ctx context.Context) (string, error) {
		return st.AI.Vision(ctx, detectPrompt, imageData)
	})
	if err != nil {
		return nil, err
	}

	ingredients := splitIngredients(text)
	if len(ingredients) == 0 {
		st.Logger.Info("no ingredients detected, pipeline ends here", zap.String("user_id", p.UserID))
		return map[string]any{"ingredients": []string{}, "userId": p.UserID, "message": "No ingredients were detected"}, nil
	}

	err = step.SendEvent(ctx, "trigger-recipe-generation", event.RecipeGenerate, event.GeneratePayload{
		Ingredients:  ingredients,
		DietaryPrefs: u.DietaryPrefs,
		UserID:       p.UserID,
		DishName:     p.DishName,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"ingredients": ingredients, "userId": p.UserID, "message": "Recipe generation triggered"}, nil
}

// splitIngredients parses a comma-separated model response into trimmed,
// non-empty tokens in their original order.
func splitIngredients(text string) []string {
	var out []string
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
