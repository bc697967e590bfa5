package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mealsnap/internal/event"
	"mealsnap/internal/platform/ai"
	"mealsnap/internal/user"
)

const chefSystemPrompt = "You are a professional chef AI who creates clean, delicious recipes."

// GenerateRecipe handles recipe/generate: it prompts the text model for
// cooking instructions honoring the user's dietary profile, then triggers
// nutrition analysis with a process-unique temporary recipe id.
func (st *Stages) GenerateRecipe(ctx context.Context, evt event.Event, step *event.Step) (any, error) {
	var p event.GeneratePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return nil, event.NonRetriable("invalid recipe/generate payload", err)
	}

	u, err := event.Run(ctx, step, "fetch-user-for-recipe", func(ctx context.Context) (*user.User, error) {
		u, err := st.Users.GetByExternalID(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, event.NonRetriable("User not found", nil)
		}
		return u, nil
	})
	if err != nil {
		return nil, err
	}

	prompt, err := instructionsPrompt(p.Ingredients, p.DietaryPrefs, u.Restrictions)
	if err != nil {
		return nil, event.NonRetriable("failed to build recipe prompt", err)
	}

	instructions, err := event.Run(ctx, step, "generate-instructions", func(ctx context.Context) (string, error) {
		text, err := st.AI.Text(ctx, ai.TextRequest{System: chefSystemPrompt, Prompt: prompt})
		if err != nil {
			if errors.Is(err, ai.ErrMalformedResponse) {
				return "", event.NonRetriable("AI did not return a valid text response", err)
			}
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", event.NonRetriable("AI did not return a valid text response", nil)
		}
		return text, nil
	})
	if err != nil {
		return nil, err
	}

	tempRecipeID := fmt.Sprintf("temp_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])

	err = step.SendEvent(ctx, "trigger-nutrition-analysis", event.NutritionAnalyze, event.AnalyzePayload{
		Ingredients:  p.Ingredients,
		Instructions: instructions,
		TempRecipeID: tempRecipeID,
		UserID:       p.UserID,
		UserDBID:     u.ID.String(),
		DishName:     p.DishName,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"tempRecipeId": tempRecipeID,
		"ingredients":  p.Ingredients,
		"userId":       p.UserID,
		"dishName":     p.DishName,
	}, nil
}

func instructionsPrompt(ingredients []string, prefs map[string]any, restrictions []string) (string, error) {
	if prefs == nil {
		prefs = map[string]any{}
	}
	if restrictions == nil {
		restrictions = []string{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return "", err
	}
	restrictionsJSON, err := json.Marshal(restrictions)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Generate a creative, healthy recipe using these ingredients: %s.\nDietary preferences: %s.\nAvoid these restrictions: %s.\nReturn only the cooking instructions as a single block of text, without a title or ingredient list.",
		strings.Join(ingredients, ", "), prefsJSON, restrictionsJSON), nil
}
