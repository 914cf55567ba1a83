package recall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/reminisce/internal/i18n"
	"github.com/pavelanni/reminisce/internal/metrics"
	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/notify"
)

// NotificationCenter enqueues one-shot local notifications. Adding an
// identifier that is already queued must not create a second notification.
type NotificationCenter interface {
	Add(ctx context.Context, req notify.Request) (bool, error)
}

// NotifiedMarker persists an exercise's notified flag.
type NotifiedMarker interface {
	MarkNotified(id string) error
}

// NotificationID is the queue identifier for an exercise's notification.
func NotificationID(exerciseID string) string {
	return "reminiscence-" + exerciseID
}

// Notifier schedules each exercise's notification at most once.
type Notifier struct {
	center  NotificationCenter
	marker  NotifiedMarker
	metrics *metrics.Metrics
	hour    int
	minute  int
	now     func() time.Time
}

// ScheduleOnce enqueues the exercise's notification for today at the
// configured time of day and then persists notified=true. An exercise that
// is already notified is left alone. The notification text uses the
// language stored in ctx by i18n.WithLanguage.
//
// If the flag cannot be persisted after a successful enqueue, ex.Notified is
// still true in memory and ErrPersistenceFailed is returned; a later
// reconciliation pass retries and the queue collapses the duplicate.
func (n *Notifier) ScheduleOnce(ctx context.Context, ex *model.Exercise) error {
	if ex.Notified {
		return nil
	}

	window := i18n.WindowLabel(ctx, ex.Window)
	lang := i18n.LanguageName(ex.Language, model.Language(i18n.Language(ctx)))
	req := notify.Request{
		ID:         NotificationID(ex.ID),
		ExerciseID: ex.ID,
		Title:      i18n.Td(ctx, "NotificationTitle", map[string]any{"Window": window}),
		Body:       i18n.Td(ctx, "NotificationBody", map[string]any{"Window": window, "Language": lang}),
		Payload:    map[string]string{"exerciseId": ex.ID},
		FireAt:     n.fireAt(),
	}

	added, err := n.center.Add(ctx, req)
	if err != nil {
		n.metrics.RecordNotification("failure")
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	if added {
		n.metrics.RecordNotification("scheduled")
	} else {
		n.metrics.RecordNotification("duplicate")
	}

	ex.Notified = true
	if err := n.marker.MarkNotified(ex.ID); err != nil {
		slog.Warn("notification queued but flag not persisted", "exercise_id", ex.ID, "error", err)
		return fmt.Errorf("%w: mark notified: %w", ErrPersistenceFailed, err)
	}
	slog.Info("notification scheduled", "exercise_id", ex.ID, "id", req.ID, "fire_at", req.FireAt)
	return nil
}

// fireAt is today at the configured local time. A time already past is
// delivered on the dispatcher's next poll.
func (n *Notifier) fireAt() time.Time {
	now := n.now()
	return time.Date(now.Year(), now.Month(), now.Day(), n.hour, n.minute, 0, 0, now.Location())
}
