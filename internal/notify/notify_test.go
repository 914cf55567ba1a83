package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedExercise(t *testing.T, s *store.Store, id string) {
	t.Helper()
	err := s.SaveExercise(model.Exercise{
		ID:            id,
		ParticipantID: "p1",
		Image:         model.ImageRef{RemoteURL: "https://img/" + id},
		PhotoDate:     time.Now().AddDate(0, 0, -7),
		Window:        model.WindowOneWeek,
		Language:      "fi",
		ProblemType:   model.ProblemSpeaking,
		QuestionText:  "q",
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveExercise: %v", err)
	}
}

type recordingSink struct {
	name string
	err  error
	got  []store.Notification
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(_ context.Context, n store.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func TestCenterAddCollapsesDuplicates(t *testing.T) {
	s := newTestStore(t)
	seedExercise(t, s, "ex-1")
	c := NewCenter(s)

	req := Request{
		ID:         "reminiscence-ex-1",
		ExerciseID: "ex-1",
		Title:      "t",
		Body:       "b",
		Payload:    map[string]string{"exerciseId": "ex-1"},
		FireAt:     time.Now().Add(time.Hour),
	}
	for i, want := range []bool{true, false} {
		added, err := c.Add(context.Background(), req)
		if err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
		if added != want {
			t.Errorf("Add #%d added = %v, want %v", i, added, want)
		}
	}
	n, err := s.CountNotifications("ex-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}
}

func TestCenterAddValidates(t *testing.T) {
	c := NewCenter(newTestStore(t))
	if _, err := c.Add(context.Background(), Request{FireAt: time.Now()}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := c.Add(context.Background(), Request{ID: "x"}); err == nil {
		t.Error("expected error for missing fire time")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Add(ctx, Request{ID: "x", FireAt: time.Now()}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled add error = %v", err)
	}
}

func TestDispatcherDeliversDue(t *testing.T) {
	s := newTestStore(t)
	seedExercise(t, s, "ex-1")
	seedExercise(t, s, "ex-2")
	c := NewCenter(s)
	now := time.Now()

	for _, r := range []Request{
		{ID: "reminiscence-ex-1", ExerciseID: "ex-1", Title: "due", FireAt: now.Add(-time.Minute)},
		{ID: "reminiscence-ex-2", ExerciseID: "ex-2", Title: "later", FireAt: now.Add(time.Hour)},
	} {
		if _, err := c.Add(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(s, time.Second, nil, sink)
	d.now = func() time.Time { return now }

	n, err := d.DeliverDue(context.Background())
	if err != nil {
		t.Fatalf("DeliverDue: %v", err)
	}
	if n != 1 || len(sink.got) != 1 || sink.got[0].ID != "reminiscence-ex-1" {
		t.Fatalf("delivered %d, sink got %+v", n, sink.got)
	}

	// Delivered notifications are not handed out again.
	n, err = d.DeliverDue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second pass delivered %d, want 0", n)
	}
}

func TestDispatcherKeepsUndelivered(t *testing.T) {
	s := newTestStore(t)
	seedExercise(t, s, "ex-1")
	if _, err := NewCenter(s).Add(context.Background(), Request{ID: "n1", ExerciseID: "ex-1", FireAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(s, time.Second, nil, &recordingSink{name: "down", err: errors.New("offline")})
	n, err := d.DeliverDue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
	got, err := s.GetNotification("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DeliveredAt != nil {
		t.Error("notification marked delivered although every sink failed")
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(newTestStore(t), 10*time.Millisecond, nil, LogSink{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run error = %v", err)
	}
}

func TestNATSSinkConnectFailure(t *testing.T) {
	if _, err := NewNATSSink("nats://127.0.0.1:1", ""); err == nil {
		t.Error("expected connection error")
	}
}

func TestEventJSON(t *testing.T) {
	fire := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	ev := newEvent(store.Notification{
		ID:         "reminiscence-ex-1",
		ExerciseID: "ex-1",
		Title:      "A memory",
		Payload:    map[string]string{"exerciseId": "ex-1"},
		FireAt:     fire,
	}, fire.Add(time.Minute))

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["exercise_id"] != "ex-1" {
		t.Errorf("exercise_id = %v", back["exercise_id"])
	}
	if p, _ := back["payload"].(map[string]any); p["exerciseId"] != "ex-1" {
		t.Errorf("payload = %v", back["payload"])
	}
}
