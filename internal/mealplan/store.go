package mealplan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements meal-plan persistence on PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore and bootstraps its schema.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS meal_plans (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		plan_date DATE NOT NULL,
		meals JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, plan_date)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create meal_plans table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// CreateOrAppend adds meals to the user's plan for the given date, creating
// the plan row when it does not exist yet.
func (s *PostgresStore) CreateOrAppend(ctx context.Context, userID uuid.UUID, date time.Time, meals []Meal) (*Plan, error) {
	day := date.Format("2006-01-02")

	existing, err := s.GetByDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing = &Plan{ID: uuid.New(), UserID: userID, Date: date, Meals: []Meal{}}
	}
	existing.Meals = append(existing.Meals, meals...)

	mealsJSON, err := json.Marshal(existing.Meals)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meals: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meal_plans (id, user_id, plan_date, meals)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, plan_date) DO UPDATE SET meals = $4, updated_at = now()`,
		existing.ID, userID, day, mealsJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save meal plan: %w", err)
	}
	return existing, nil
}

// GetByDate retrieves the user's plan for one date.
// Returns (nil, nil) when no plan exists.
func (s *PostgresStore) GetByDate(ctx context.Context, userID uuid.UUID, date time.Time) (*Plan, error) {
	p, err := s.scanOne(s.db.QueryRowContext(ctx,
		"SELECT id, user_id, plan_date, meals, created_at, updated_at FROM meal_plans WHERE user_id = $1 AND plan_date = $2",
		userID, date.Format("2006-01-02"),
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Plan not found
		}
		return nil, fmt.Errorf("failed to get meal plan: %w", err)
	}
	return p, nil
}

// ListByUser returns all of a user's plans, newest date first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, plan_date, meals, created_at, updated_at FROM meal_plans WHERE user_id = $1 ORDER BY plan_date DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal plans: %w", err)
	}
	return plans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*Plan, error) {
	var p Plan
	var mealsJSON []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Date, &mealsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mealsJSON, &p.Meals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meals: %w", err)
	}
	return &p, nil
}
