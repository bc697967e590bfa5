package shopping

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// List is one day's shopping list for one user.
type List struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PostgresStore implements shopping-list persistence on PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore and bootstraps its schema.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS shopping_lists (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		items JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS shopping_lists_user_idx ON shopping_lists (user_id, created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create shopping_lists table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// CurrentForDay returns the most recent list the user created on now's
// server-local day, creating an empty one when none exists. A run just
// before midnight and an edit just after land in two different lists.
func (s *PostgresStore) CurrentForDay(ctx context.Context, userID uuid.UUID, now time.Time) (*List, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	l, err := s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, items, created_at, updated_at FROM shopping_lists
		 WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at DESC LIMIT 1`,
		userID, dayStart, dayEnd,
	))
	if err == nil {
		return l, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get current shopping list: %w", err)
	}

	l = &List{ID: uuid.New(), UserID: userID, Items: []Item{}, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO shopping_lists (id, user_id, items, created_at, updated_at) VALUES ($1, $2, '[]', $3, $3)",
		l.ID, l.UserID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shopping list: %w", err)
	}
	return l, nil
}

// ReplaceItems overwrites a list's items wholesale.
func (s *PostgresStore) ReplaceItems(ctx context.Context, id uuid.UUID, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal shopping list items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE shopping_lists SET items = $2, updated_at = now() WHERE id = $1",
		id, itemsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to replace shopping list items: %w", err)
	}
	return nil
}

// ListByUser returns all of a user's lists, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*List, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, items, created_at, updated_at FROM shopping_lists WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list shopping lists: %w", err)
	}
	defer rows.Close()

	var lists []*List
	for rows.Next() {
		l, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shopping lists: %w", err)
	}
	return lists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*List, error) {
	var l List
	var itemsJSON []byte
	if err := row.Scan(&l.ID, &l.UserID, &itemsJSON, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &l.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shopping list items: %w", err)
	}
	return &l, nil
}
