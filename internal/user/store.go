package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements user persistence on PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore and bootstraps its schema.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		dietary_prefs JSONB NOT NULL DEFAULT '{}',
		restrictions JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// GetByExternalID retrieves a user by the identity provider's subject.
// Returns (nil, nil) when no such user exists.
func (s *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*User, error) {
	var u User
	var prefsJSON, restrictionsJSON []byte

	err := s.db.QueryRowContext(ctx,
		"SELECT id, external_id, email, dietary_prefs, restrictions, created_at, updated_at FROM users WHERE external_id = $1",
		externalID,
	).Scan(&u.ID, &u.ExternalID, &u.Email, &prefsJSON, &restrictionsJSON, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to get user by external id: %w", err)
	}

	if err := json.Unmarshal(prefsJSON, &u.DietaryPrefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dietary prefs: %w", err)
	}
	if err := json.Unmarshal(restrictionsJSON, &u.Restrictions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal restrictions: %w", err)
	}
	return &u, nil
}

// Create inserts a new user. Re-delivered provisioning webhooks are expected,
// so an existing external id is left untouched.
func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	prefsJSON, err := json.Marshal(orEmptyMap(u.DietaryPrefs))
	if err != nil {
		return fmt.Errorf("failed to marshal dietary prefs: %w", err)
	}
	restrictionsJSON, err := json.Marshal(orEmptySlice(u.Restrictions))
	if err != nil {
		return fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, email, dietary_prefs, restrictions)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (external_id) DO NOTHING`,
		u.ID, u.ExternalID, u.Email, prefsJSON, restrictionsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateProfile replaces a user's dietary preferences and restrictions.
func (s *PostgresStore) UpdateProfile(ctx context.Context, externalID string, prefs map[string]any, restrictions []string) error {
	prefsJSON, err := json.Marshal(orEmptyMap(prefs))
	if err != nil {
		return fmt.Errorf("failed to marshal dietary prefs: %w", err)
	}
	restrictionsJSON, err := json.Marshal(orEmptySlice(restrictions))
	if err != nil {
		return fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET dietary_prefs = $2, restrictions = $3, updated_at = now() WHERE external_id = $1",
		externalID, prefsJSON, restrictionsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no user with external id %s", externalID)
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
