// Package shopping manages day-scoped shopping lists: grouping items by the
// recipe they came from, merging new ingredients into the current day's list,
// and the index-based edits the UI performs.
package shopping

import (
	"encoding/json"
	"fmt"
)

// Synthetic group for items with no recipe context.
const (
	UngroupedID    = "ungrouped"
	UngroupedTitle = "Other Items"
)

// ItemKind distinguishes the two stored item forms.
type ItemKind int

const (
	// KindLegacy is a bare ingredient string with no recipe context.
	KindLegacy ItemKind = iota
	// KindGrouped carries the recipe the ingredient belongs to.
	KindGrouped
)

// Item is one shopping-list entry. Lists written by older clients contain
// bare strings; the pipeline writes grouped items. Both forms round-trip
// through JSON unchanged.
type Item struct {
	Kind        ItemKind
	RecipeID    string
	RecipeTitle string
	Ingredient  string
}

// LegacyItem builds a bare-string item.
func LegacyItem(ingredient string) Item {
	return Item{Kind: KindLegacy, Ingredient: ingredient}
}

// GroupedItem builds an item attributed to a recipe.
func GroupedItem(recipeID, recipeTitle, ingredient string) Item {
	return Item{Kind: KindGrouped, RecipeID: recipeID, RecipeTitle: recipeTitle, Ingredient: ingredient}
}

// GroupKey returns the grouping key for this item. Legacy items and grouped
// items without a recipe id share the synthetic ungrouped key.
func (i Item) GroupKey() string {
	if i.Kind == KindLegacy || i.RecipeID == "" {
		return UngroupedID
	}
	return i.RecipeID
}

// GroupTitle returns the display title of this item's group.
func (i Item) GroupTitle() string {
	if i.GroupKey() == UngroupedID || i.RecipeTitle == "" {
		return UngroupedTitle
	}
	return i.RecipeTitle
}

type groupedItemJSON struct {
	RecipeID    string `json:"recipeId"`
	RecipeTitle string `json:"recipeTitle"`
	Ingredient  string `json:"ingredient"`
}

// MarshalJSON writes legacy items as bare strings and grouped items as
// objects, preserving the stored wire forms.
func (i Item) MarshalJSON() ([]byte, error) {
	if i.Kind == KindLegacy {
		return json.Marshal(i.Ingredient)
	}
	return json.Marshal(groupedItemJSON{RecipeID: i.RecipeID, RecipeTitle: i.RecipeTitle, Ingredient: i.Ingredient})
}

// UnmarshalJSON accepts either wire form.
func (i *Item) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = LegacyItem(s)
		return nil
	}
	var g groupedItemJSON
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("shopping list item is neither a string nor an object: %w", err)
	}
	*i = GroupedItem(g.RecipeID, g.RecipeTitle, g.Ingredient)
	return nil
}
