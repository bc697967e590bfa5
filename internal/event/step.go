package event

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Step is the retrying sub-operation runner handed to each handler. Steps are
// the unit of retry: a transient failure re-runs only the failing step, not
// the whole handler.
type Step struct {
	bus    *Bus
	evt    Event
	logger *zap.Logger
}

// Run executes one named step with exponential backoff on transient errors.
// A NonRetriableError stops the retry loop immediately and propagates.
// Package-level because Go methods cannot be generic.
func Run[T any](ctx context.Context, s *Step, label string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	backoff := retry.WithMaxRetries(uint64(s.bus.opts.StepAttempts-1), retry.NewExponential(s.bus.opts.StepBaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, ferr := fn(ctx)
		if ferr != nil {
			if IsNonRetriable(ferr) {
				return ferr
			}
			s.logger.Warn("step attempt failed", zap.String("step", label), zap.Error(ferr))
			return retry.RetryableError(ferr)
		}
		out = v
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("step %s: %w", label, err)
	}
	s.logger.Debug("step completed", zap.String("step", label))
	return out, nil
}

// SendEvent emits a follow-up event that inherits this event's correlation id.
func (s *Step) SendEvent(ctx context.Context, label, name string, payload any) error {
	if _, err := s.bus.Send(ctx, name, s.evt.CorrelationID, payload); err != nil {
		return fmt.Errorf("step %s: %w", label, err)
	}
	s.logger.Debug("step sent event", zap.String("step", label), zap.String("sent", name))
	return nil
}
