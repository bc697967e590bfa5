package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealsnap/internal/event"
	"mealsnap/internal/platform/ai"
	"mealsnap/internal/recipe"
	"mealsnap/internal/shopping"
)

const fallbackRecipeTitle = "AI Generated Recipe"

const nutritionPromptFormat = `You are a professional nutritionist. Given the following list of ingredients, estimate the total nutritional values (for 1 serving). Respond ONLY in raw JSON format, without markdown or extra text:
{
  "calories": number,
  "protein": number,
  "carbs": number,
  "fat": number
}

Ingredients:
%s`

// AnalyzeNutrition handles nutrition/analyze, the pipeline's terminal stage:
// it estimates nutrition for the generated recipe, titles it when no dish
// name was supplied upstream, persists the finished Recipe, and merges its
// ingredients into the current day's shopping list.
func (st *Stages) AnalyzeNutrition(ctx context.Context, evt event.Event, step *event.Step) (any, error) {
	var p event.AnalyzePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return nil, event.NonRetriable("invalid nutrition/analyze payload", err)
	}
	ownerID, err := uuid.Parse(p.UserDBID)
	if err != nil {
		return nil, event.NonRetriable("invalid user database id "+p.UserDBID, err)
	}

	nutrition, err := event.Run(ctx, step, "get-nutrition-data", func(ctx context.Context) (recipe.Nutrition, error) {
		text, err := st.AI.Text(ctx, ai.TextRequest{
			Prompt:          fmt.Sprintf(nutritionPromptFormat, strings.Join(p.Ingredients, "\n")),
			Temperature:     0.2,
			TopK:            20,
			TopP:            0.8,
			MaxOutputTokens: 256,
		})
		if err != nil {
			return recipe.Nutrition{}, err
		}
		n, perr := parseNutrition(text)
		if perr != nil {
			// A response without the promised JSON object is a model-contract
			// violation; the raw text travels as diagnostic context.
			return recipe.Nutrition{}, event.NonRetriable("model returned invalid nutrition JSON", perr)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}

	title := p.DishName
	if title == "" {
		title, err = event.Run(ctx, step, "generate-recipe-title", func(ctx context.Context) (string, error) {
			text, err := st.AI.Text(ctx, ai.TextRequest{
				Prompt:          fmt.Sprintf("Based on these ingredients: %s, suggest a creative and appetizing recipe name. Return only the name, nothing else.", strings.Join(p.Ingredients, ", ")),
				Temperature:     0.7,
				TopK:            20,
				TopP:            0.8,
				MaxOutputTokens: 64,
			})
			if err != nil {
				return "", err
			}
			if t := strings.TrimSpace(text); t != "" {
				return t, nil
			}
			return fallbackRecipeTitle, nil
		})
		if err != nil {
			return nil, err
		}
	}

	rec, err := event.Run(ctx, step, "save-complete-recipe", func(ctx context.Context) (*recipe.Recipe, error) {
		r := &recipe.Recipe{
			// The id is derived from the event, so a replay of this handler
			// after a later step failed writes the same row instead of a
			// second one.
			ID:           uuid.NewSHA1(uuid.NameSpaceOID, evt.ID[:]),
			UserID:       ownerID,
			Title:        title,
			Ingredients:  p.Ingredients,
			Instructions: p.Instructions,
			Nutrition:    nutrition,
		}
		if err := st.Recipes.Create(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = event.Run(ctx, step, "add-ingredients-to-shopping-list", func(ctx context.Context) (*shopping.List, error) {
		return st.Shopping.AddRecipeItems(ctx, ownerID, shopping.Group{
			RecipeID:    rec.ID.String(),
			RecipeTitle: title,
			Items:       p.Ingredients,
		})
	})
	if err != nil {
		return nil, err
	}

	st.Logger.Info("recipe saved with nutrition data",
		zap.String("recipe_id", rec.ID.String()),
		zap.String("title", title),
		zap.String("temp_recipe_id", p.TempRecipeID))

	return map[string]any{
		"recipe":       rec,
		"nutrition":    nutrition,
		"tempRecipeId": p.TempRecipeID,
		"userId":       p.UserID,
	}, nil
}

// AnalyzeIngredients estimates nutrition for an ad hoc ingredient list. It is
// the user-initiated variant of the pipeline's nutrition step: failures are
// returned plainly so each caller can choose between hard failure and a
// zero-valued fallback.
func (st *Stages) AnalyzeIngredients(ctx context.Context, ingredients []string) (recipe.Nutrition, error) {
	text, err := st.AI.Text(ctx, ai.TextRequest{
		Prompt:          fmt.Sprintf(nutritionPromptFormat, strings.Join(ingredients, "\n")),
		Temperature:     0.2,
		TopK:            20,
		TopP:            0.8,
		MaxOutputTokens: 256,
	})
	if err != nil {
		return recipe.Nutrition{}, err
	}
	return parseNutrition(text)
}

// parseNutrition pulls the first brace-delimited JSON object out of the
// model's response. Missing numeric fields stay zero; a response with no
// JSON object at all is an error carrying the raw text.
func parseNutrition(text string) (recipe.Nutrition, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return recipe.Nutrition{}, errors.New("no JSON object in response: " + text)
	}
	var n recipe.Nutrition
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return recipe.Nutrition{}, fmt.Errorf("malformed nutrition JSON %q: %w", raw, err)
	}
	return n, nil
}

// extractJSON returns the first balanced brace-delimited substring of s.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
