package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements recipe persistence on PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore and bootstraps its schema.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS recipes (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL,
		ingredients JSONB NOT NULL DEFAULT '[]',
		instructions TEXT NOT NULL DEFAULT '',
		nutrition JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS recipes_user_idx ON recipes (user_id, created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create recipes table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Create persists a recipe in a single write. An existing row with the same
// id is left untouched, so a retried save does not duplicate it.
func (s *PostgresStore) Create(ctx context.Context, r *Recipe) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	ingredientsJSON, err := json.Marshal(r.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to marshal ingredients: %w", err)
	}
	nutritionJSON, err := json.Marshal(r.Nutrition)
	if err != nil {
		return fmt.Errorf("failed to marshal nutrition: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipes (id, user_id, title, ingredients, instructions, nutrition)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.UserID, r.Title, ingredientsJSON, r.Instructions, nutritionJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// GetByID retrieves one recipe. Returns (nil, nil) when no such recipe exists.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Recipe, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, ingredients, instructions, nutrition, created_at, updated_at FROM recipes WHERE id = $1",
		id,
	)
	r, err := scanRecipe(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Recipe not found
		}
		return nil, err
	}
	return r, nil
}

// ListByUser returns a user's recipes, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, ingredients, instructions, nutrition, created_at, updated_at FROM recipes WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []*Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipes: %w", err)
	}
	return recipes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*Recipe, error) {
	var r Recipe
	var ingredientsJSON, nutritionJSON []byte

	err := row.Scan(&r.ID, &r.UserID, &r.Title, &ingredientsJSON, &r.Instructions, &nutritionJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan recipe: %w", err)
	}

	if err := json.Unmarshal(ingredientsJSON, &r.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
	}
	if err := json.Unmarshal(nutritionJSON, &r.Nutrition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nutrition: %w", err)
	}
	return &r, nil
}
