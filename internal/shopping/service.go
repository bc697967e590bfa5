package shopping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ListStore defines the persistence the service relies on.
type ListStore interface {
	CurrentForDay(ctx context.Context, userID uuid.UUID, now time.Time) (*List, error)
	ReplaceItems(ctx context.Context, id uuid.UUID, items []Item) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*List, error)
}

// Service serializes all mutations of one user's current-day list behind a
// per-(user, day) mutex, so concurrent pipeline runs and UI edits cannot lose
// each other's read-modify-write updates.
type Service struct {
	store ListStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a shopping-list service.
func NewService(store ListStore) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(userID uuid.UUID, day time.Time) *sync.Mutex {
	key := userID.String() + "|" + day.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// AddItems merge-appends items into the user's current-day list and returns
// the updated list.
func (s *Service) AddItems(ctx context.Context, userID uuid.UUID, items []Item) (*List, error) {
	now := s.now()
	lock := s.lockFor(userID, now)
	lock.Lock()
	defer lock.Unlock()

	list, err := s.store.CurrentForDay(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	list.Items = MergeAppend(list.Items, items)
	if err := s.store.ReplaceItems(ctx, list.ID, list.Items); err != nil {
		return nil, err
	}
	return list, nil
}

// AddRecipeItems writes one recipe's ingredient group into the current-day
// list, replacing any earlier copy of the same group.
func (s *Service) AddRecipeItems(ctx context.Context, userID uuid.UUID, g Group) (*List, error) {
	now := s.now()
	lock := s.lockFor(userID, now)
	lock.Lock()
	defer lock.Unlock()

	list, err := s.store.CurrentForDay(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	list.Items = ReplaceGroup(list.Items, g)
	if err := s.store.ReplaceItems(ctx, list.ID, list.Items); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateItem replaces the item at index in the current-day list.
func (s *Service) UpdateItem(ctx context.Context, userID uuid.UUID, index int, item Item) (*List, error) {
	return s.rewrite(ctx, userID, func(items []Item) ([]Item, error) {
		if index < 0 || index >= len(items) {
			return nil, fmt.Errorf("shopping list item index %d out of range", index)
		}
		out := append([]Item(nil), items...)
		out[index] = item
		return out, nil
	})
}

// RemoveItem deletes the item at index from the current-day list.
func (s *Service) RemoveItem(ctx context.Context, userID uuid.UUID, index int) (*List, error) {
	return s.rewrite(ctx, userID, func(items []Item) ([]Item, error) {
		if index < 0 || index >= len(items) {
			return nil, fmt.Errorf("shopping list item index %d out of range", index)
		}
		out := append([]Item(nil), items[:index]...)
		return append(out, items[index+1:]...), nil
	})
}

// Lists returns all of the user's lists, newest first.
func (s *Service) Lists(ctx context.Context, userID uuid.UUID) ([]*List, error) {
	return s.store.ListByUser(ctx, userID)
}

// rewrite reconstructs the full item array and replaces the stored list
// wholesale; there is no partial-update primitive.
func (s *Service) rewrite(ctx context.Context, userID uuid.UUID, transform func([]Item) ([]Item, error)) (*List, error) {
	now := s.now()
	lock := s.lockFor(userID, now)
	lock.Lock()
	defer lock.Unlock()

	list, err := s.store.CurrentForDay(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	items, err := transform(list.Items)
	if err != nil {
		return nil, err
	}
	list.Items = items
	if err := s.store.ReplaceItems(ctx, list.ID, list.Items); err != nil {
		return nil, err
	}
	return list, nil
}
