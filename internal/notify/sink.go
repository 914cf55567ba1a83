package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pavelanni/reminisce/internal/store"
)

// LogSink writes delivered notifications to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, n store.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"id", n.ID,
		"exercise_id", n.ExerciseID,
		"title", n.Title,
		"body", n.Body,
		"fire_at", n.FireAt,
	)
	return nil
}

// Event is the JSON message published for each delivered notification.
type Event struct {
	ID          string            `json:"id"`
	ExerciseID  string            `json:"exercise_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Payload     map[string]string `json:"payload"`
	FireAt      time.Time         `json:"fire_at"`
	DeliveredAt time.Time         `json:"delivered_at"`
}

func newEvent(n store.Notification, now time.Time) Event {
	return Event{
		ID:          n.ID,
		ExerciseID:  n.ExerciseID,
		Title:       n.Title,
		Body:        n.Body,
		Payload:     n.Payload,
		FireAt:      n.FireAt,
		DeliveredAt: now,
	}
}

// NATSSink publishes notifications to a NATS subject so companion devices can show them.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		subject = "reminisce.notifications"
	}
	nc, err := nats.Connect(url,
		nats.Name("reminisce"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("connected to NATS", "url", url, "subject", subject)
	return &NATSSink{conn: nc, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(ctx context.Context, n store.Notification) error {
	data, err := json.Marshal(newEvent(n, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
