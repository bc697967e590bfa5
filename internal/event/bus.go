package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one event. The returned value is the stage's terminal
// result and is recorded in the log; the error decides the event's fate.
type Handler func(ctx context.Context, evt Event, step *Step) (any, error)

// Store defines the event persistence the bus relies on.
type Store interface {
	Insert(ctx context.Context, evt Event) error
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, cause string) error
	RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, cause string) error
	ListPending(ctx context.Context) ([]Event, error)
}

// Options tunes the bus and its step runner.
type Options struct {
	Workers         int
	HandlerAttempts int
	StepAttempts    int
	StepBaseBackoff time.Duration
	QueueSize       int
	RedispatchDelay time.Duration
}

// Bus persists events before handing them to registered handlers. Delivery is
// at least once: an event row stays pending until its handler finishes, and a
// restarted process re-dispatches whatever is still pending.
type Bus struct {
	store  Store
	logger *zap.Logger
	opts   Options

	mu       sync.RWMutex
	handlers map[string]Handler

	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewBus creates a bus on top of the given event store.
func NewBus(store Store, logger *zap.Logger, opts Options) *Bus {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.HandlerAttempts < 1 {
		opts.HandlerAttempts = 3
	}
	if opts.StepAttempts < 1 {
		opts.StepAttempts = 3
	}
	if opts.StepBaseBackoff <= 0 {
		opts.StepBaseBackoff = 500 * time.Millisecond
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 256
	}
	if opts.RedispatchDelay <= 0 {
		opts.RedispatchDelay = 2 * time.Second
	}
	return &Bus{
		store:    store,
		logger:   logger,
		opts:     opts,
		handlers: make(map[string]Handler),
		queue:    make(chan Event, opts.QueueSize),
		stop:     make(chan struct{}),
	}
}

// Register installs the handler for a named event.
func (b *Bus) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// Send durably enqueues an event and returns without waiting for its handler.
func (b *Bus) Send(ctx context.Context, name string, correlationID uuid.UUID, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	evt := Event{
		ID:            uuid.New(),
		Name:          name,
		CorrelationID: correlationID,
		Data:          data,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
	if err := b.store.Insert(ctx, evt); err != nil {
		return uuid.Nil, err
	}
	b.enqueue(evt)
	return evt.ID, nil
}

// Start launches the worker goroutines. They exit when ctx is cancelled;
// anything still queued stays pending in the store for the next Recover.
// Start must be called at most once.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		close(b.stop)
	}()
	for i := 0; i < b.opts.Workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-b.queue:
					b.dispatch(ctx, evt)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Recover re-dispatches events that were accepted but never completed.
func (b *Bus) Recover(ctx context.Context) error {
	pending, err := b.store.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, evt := range pending {
		b.enqueue(evt)
	}
	if len(pending) > 0 {
		b.logger.Info("re-dispatched pending events", zap.Int("count", len(pending)))
	}
	return nil
}

func (b *Bus) enqueue(evt Event) {
	select {
	case b.queue <- evt:
	default:
		// Queue full; hand off without blocking the caller. The row is
		// already pending in the store, so if the workers shut down first
		// the event is simply left for the next Recover.
		go func() {
			select {
			case b.queue <- evt:
			case <-b.stop:
			}
		}()
	}
}

func (b *Bus) handler(name string) Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[name]
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	log := b.logger.With(
		zap.String("event", evt.Name),
		zap.String("event_id", evt.ID.String()),
		zap.String("correlation_id", evt.CorrelationID.String()),
	)

	h := b.handler(evt.Name)
	if h == nil {
		log.Error("no handler registered")
		if err := b.store.MarkFailed(ctx, evt.ID, evt.Attempts, "no handler registered for "+evt.Name); err != nil {
			log.Error("failed to mark event failed", zap.Error(err))
		}
		return
	}

	result, err := h(ctx, evt, &Step{bus: b, evt: evt, logger: log})
	if err == nil {
		if merr := b.store.MarkDone(ctx, evt.ID); merr != nil {
			log.Error("failed to mark event done", zap.Error(merr))
		}
		log.Info("event handled", zap.Any("result", result))
		return
	}

	attempts := evt.Attempts + 1
	if IsNonRetriable(err) || attempts >= b.opts.HandlerAttempts {
		if merr := b.store.MarkFailed(ctx, evt.ID, attempts, err.Error()); merr != nil {
			log.Error("failed to mark event failed", zap.Error(merr))
		}
		log.Error("event failed permanently",
			zap.Int("attempts", attempts),
			zap.Bool("non_retriable", IsNonRetriable(err)),
			zap.Error(err))
		return
	}

	if merr := b.store.RecordAttempt(ctx, evt.ID, attempts, err.Error()); merr != nil {
		log.Error("failed to record event attempt", zap.Error(merr))
	}
	log.Warn("event handler failed, re-dispatching", zap.Int("attempts", attempts), zap.Error(err))
	evt.Attempts = attempts
	time.AfterFunc(b.opts.RedispatchDelay, func() { b.enqueue(evt) })
}
