package event

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore persists pipeline events in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore and bootstraps its schema.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_events (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		correlation_id UUID NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS pipeline_events_status_idx ON pipeline_events (status);
	CREATE INDEX IF NOT EXISTS pipeline_events_correlation_idx ON pipeline_events (correlation_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create pipeline_events table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Insert persists a new pending event.
func (s *PostgresStore) Insert(ctx context.Context, evt Event) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO pipeline_events (id, name, correlation_id, payload, status, attempts) VALUES ($1, $2, $3, $4, $5, $6)",
		evt.ID, evt.Name, evt.CorrelationID, []byte(evt.Data), StatusPending, 0,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// MarkDone records a successfully handled event.
func (s *PostgresStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pipeline_events SET status = $2, updated_at = $3 WHERE id = $1",
		id, StatusDone, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark event done: %w", err)
	}
	return nil
}

// MarkFailed records a permanently failed event with its diagnostic text.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, cause string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pipeline_events SET status = $2, attempts = $3, last_error = $4, updated_at = $5 WHERE id = $1",
		id, StatusFailed, attempts, cause, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// RecordAttempt bumps the attempt counter on a still-pending event.
func (s *PostgresStore) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, cause string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pipeline_events SET attempts = $2, last_error = $3, updated_at = $4 WHERE id = $1",
		id, attempts, cause, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event attempt: %w", err)
	}
	return nil
}

// ListPending returns events that were accepted but never completed, oldest
// first, so a restarted process can re-dispatch them.
func (s *PostgresStore) ListPending(ctx context.Context) ([]Event, error) {
	var events []Event
	err := s.db.SelectContext(ctx, &events,
		"SELECT id, name, correlation_id, payload, status, attempts, last_error, created_at, updated_at FROM pipeline_events WHERE status = $1 ORDER BY created_at",
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	return events, nil
}
