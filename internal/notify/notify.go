// Package notify is the local notification facility: a persistent one-shot
// queue keyed by identifier and a dispatcher that hands due entries to sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/reminisce/internal/metrics"
	"github.com/pavelanni/reminisce/internal/store"
)

// Request is a one-shot notification to deliver at FireAt.
type Request struct {
	ID         string
	ExerciseID string
	Title      string
	Body       string
	Payload    map[string]string
	FireAt     time.Time
}

// Center accepts notification requests.
type Center struct {
	store *store.Store
}

func NewCenter(s *store.Store) *Center {
	return &Center{store: s}
}

// Add enqueues req. Adding an identifier that is already queued is a no-op;
// added reports whether a new entry was created.
func (c *Center) Add(ctx context.Context, req Request) (added bool, err error) {
	if req.ID == "" {
		return false, errors.New("notification id is required")
	}
	if req.FireAt.IsZero() {
		return false, errors.New("notification fire time is required")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	added, err = c.store.AddNotification(store.Notification{
		ID:         req.ID,
		ExerciseID: req.ExerciseID,
		Title:      req.Title,
		Body:       req.Body,
		Payload:    req.Payload,
		FireAt:     req.FireAt,
	})
	if err != nil {
		return false, fmt.Errorf("enqueue notification %s: %w", req.ID, err)
	}
	if !added {
		slog.Debug("notification already queued", "id", req.ID)
	}
	return added, nil
}

// Sink receives notifications when they become due.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n store.Notification) error
}

// Dispatcher polls the queue and delivers due notifications.
type Dispatcher struct {
	store    *store.Store
	sinks    []Sink
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewDispatcher(s *store.Store, interval time.Duration, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Dispatcher{store: s, sinks: sinks, interval: interval, metrics: m, now: time.Now}
}

// Run delivers due notifications every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DeliverDue(ctx); err != nil && ctx.Err() == nil {
			slog.Error("deliver notifications", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DeliverDue hands every due notification to all sinks. A notification is
// marked delivered once at least one sink accepted it; otherwise it stays queued.
func (d *Dispatcher) DeliverDue(ctx context.Context) (int, error) {
	due, err := d.store.DueNotifications(d.now())
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}
	delivered := 0
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		ok := false
		for _, s := range d.sinks {
			err := s.Deliver(ctx, n)
			if d.metrics != nil {
				d.metrics.RecordDelivery(s.Name(), err == nil)
			}
			if err != nil {
				slog.Warn("notification sink failed", "sink", s.Name(), "id", n.ID, "error", err)
				continue
			}
			ok = true
		}
		if !ok {
			continue
		}
		if err := d.store.MarkNotificationDelivered(n.ID); err != nil {
			return delivered, fmt.Errorf("mark %s delivered: %w", n.ID, err)
		}
		delivered++
	}
	return delivered, nil
}
