// Package tasks runs registered background tasks when their pending request
// becomes due. Each request runs once; handlers resubmit to repeat.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/reminisce/internal/metrics"
	"github.com/pavelanni/reminisce/internal/store"
)

// Handler runs one task invocation. ctx is cancelled when the run budget
// expires or the scheduler shuts down.
type Handler func(ctx context.Context) error

// Request asks for a task to run no earlier than EarliestBegin.
type Request struct {
	ID            string
	EarliestBegin time.Time
}

// ErrUnknownTask is returned when submitting a request for an unregistered task.
var ErrUnknownTask = errors.New("task is not registered")

// Scheduler persists pending requests and runs due ones one at a time.
type Scheduler struct {
	store    *store.Store
	interval time.Duration
	budget   time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	running  sync.Mutex
}

// New creates a scheduler polling every interval. Each run gets at most budget.
func New(s *store.Store, interval, budget time.Duration, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	return &Scheduler{
		store:    s,
		interval: interval,
		budget:   budget,
		metrics:  m,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task identifier.
func (s *Scheduler) Register(id string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; ok {
		return fmt.Errorf("task %q already registered", id)
	}
	s.handlers[id] = h
	return nil
}

func (s *Scheduler) handler(id string) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[id]
	return h, ok
}

// Submit records the pending request for a task, replacing any earlier one.
func (s *Scheduler) Submit(ctx context.Context, req Request) error {
	if _, ok := s.handler(req.ID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, req.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.UpsertTaskRequest(req.ID, req.EarliestBegin); err != nil {
		return fmt.Errorf("submit task %s: %w", req.ID, err)
	}
	slog.Debug("task submitted", "task", req.ID, "earliest_begin", req.EarliestBegin)
	return nil
}

// Pending reports the pending request for a task, if any.
func (s *Scheduler) Pending(id string) (*Request, error) {
	r, err := s.store.GetTaskRequest(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Request{ID: r.ID, EarliestBegin: r.EarliestBegin}, nil
}

// Run polls for due requests until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
			slog.Error("run due tasks", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunDue runs every due request sequentially and returns how many ran.
// A request is removed before its handler runs, so a handler that resubmits
// its own task is not clobbered.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	s.running.Lock()
	defer s.running.Unlock()

	due, err := s.store.DueTaskRequests(s.now())
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	ran := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		if err := s.store.DeleteTaskRequest(r.ID); err != nil {
			return ran, fmt.Errorf("claim task %s: %w", r.ID, err)
		}
		h, ok := s.handler(r.ID)
		if !ok {
			slog.Warn("dropping request for unregistered task", "task", r.ID)
			continue
		}
		s.runOne(ctx, r.ID, h)
		ran++
	}
	return ran, nil
}

func (s *Scheduler) runOne(ctx context.Context, id string, h Handler) {
	runCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	start := time.Now()
	err := h(runCtx)
	result := "success"
	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result = "expired"
	default:
		result = "failure"
	}
	if s.metrics != nil {
		s.metrics.RecordTask(id, result)
	}
	slog.Info("task finished", "task", id, "result", result, "duration", time.Since(start).Round(time.Millisecond), "error", err)
}
