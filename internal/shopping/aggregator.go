package shopping

// Group is one recipe's slice of a shopping list.
type Group struct {
	RecipeID    string   `json:"recipeId"`
	RecipeTitle string   `json:"recipeTitle"`
	Items       []string `json:"items"`
}

// GroupItems folds a flat item list into per-recipe groups. Group order is
// the first-seen order of each group key among the input items; the first
// item seen for a group fixes its title.
func GroupItems(items []Item) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, item := range items {
		key := item.GroupKey()
		at, ok := index[key]
		if !ok {
			at = len(groups)
			index[key] = at
			groups = append(groups, Group{RecipeID: key, RecipeTitle: item.GroupTitle()})
		}
		groups[at].Items = append(groups[at].Items, item.Ingredient)
	}
	return groups
}

// Flatten expands groups back to a flat item list. Every emitted item is
// grouped, with ungrouped entries keeping the synthetic key, so flattening
// and regrouping round-trips without changing groups or their order.
func Flatten(groups []Group) []Item {
	var items []Item
	for _, g := range groups {
		for _, ing := range g.Items {
			items = append(items, GroupedItem(g.RecipeID, g.RecipeTitle, ing))
		}
	}
	return items
}

// MergeAppend appends incoming items to existing ones, skipping any whose
// ingredient text already appears in the same group. The same ingredient
// under two different recipe groups is kept twice: each group represents a
// distinct recipe's needs.
func MergeAppend(existing, incoming []Item) []Item {
	type entry struct{ key, ingredient string }
	seen := make(map[entry]bool, len(existing))
	for _, item := range existing {
		seen[entry{item.GroupKey(), item.Ingredient}] = true
	}

	merged := append([]Item(nil), existing...)
	for _, item := range incoming {
		e := entry{item.GroupKey(), item.Ingredient}
		if seen[e] {
			continue
		}
		seen[e] = true
		merged = append(merged, item)
	}
	return merged
}

// ReplaceGroup removes every existing item of the group's key and appends the
// group's items, so re-running a pipeline stage leaves one copy of the
// recipe's ingredients rather than accumulating duplicates.
func ReplaceGroup(existing []Item, g Group) []Item {
	var items []Item
	for _, item := range existing {
		if item.GroupKey() == g.RecipeID {
			continue
		}
		items = append(items, item)
	}
	for _, ing := range g.Items {
		items = append(items, GroupedItem(g.RecipeID, g.RecipeTitle, ing))
	}
	return items
}
