package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

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

func TestRegisterTwice(t *testing.T) {
	s := New(newTestStore(t), time.Second, time.Second, nil)
	noop := func(context.Context) error { return nil }
	if err := s.Register("refresh", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("refresh", noop); err == nil {
		t.Error("expected error registering the same task twice")
	}
}

func TestSubmitUnknownTask(t *testing.T) {
	s := New(newTestStore(t), time.Second, time.Second, nil)
	err := s.Submit(context.Background(), Request{ID: "nope", EarliestBegin: time.Now()})
	if !errors.Is(err, ErrUnknownTask) {
		t.Errorf("error = %v, want ErrUnknownTask", err)
	}
}

func TestSubmitReplacesPending(t *testing.T) {
	s := New(newTestStore(t), time.Second, time.Second, nil)
	if err := s.Register("cycle", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	first := time.Now().Add(time.Hour).Truncate(time.Second)
	second := first.Add(time.Hour)
	for _, at := range []time.Time{first, second} {
		if err := s.Submit(context.Background(), Request{ID: "cycle", EarliestBegin: at}); err != nil {
			t.Fatal(err)
		}
	}
	p, err := s.Pending("cycle")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || !p.EarliestBegin.Equal(second) {
		t.Errorf("pending = %+v, want earliest begin %v", p, second)
	}
}

func TestRunDueRunsOnlyDueRequests(t *testing.T) {
	s := New(newTestStore(t), time.Second, time.Second, nil)
	now := time.Now()
	s.now = func() time.Time { return now }

	var ran []string
	for _, id := range []string{"cycle", "refresh"} {
		if err := s.Register(id, func(context.Context) error {
			ran = append(ran, id)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	if err := s.Submit(ctx, Request{ID: "cycle", EarliestBegin: now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ctx, Request{ID: "refresh", EarliestBegin: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	n, err := s.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if n != 1 || len(ran) != 1 || ran[0] != "cycle" {
		t.Fatalf("ran %d: %v", n, ran)
	}
	if p, _ := s.Pending("cycle"); p != nil {
		t.Errorf("cycle request still pending after run: %+v", p)
	}
	if p, _ := s.Pending("refresh"); p == nil {
		t.Error("refresh request should still be pending")
	}
}

func TestHandlerCanResubmitItself(t *testing.T) {
	s := New(newTestStore(t), time.Second, time.Second, nil)
	next := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	if err := s.Register("cycle", func(ctx context.Context) error {
		return s.Submit(context.WithoutCancel(ctx), Request{ID: "cycle", EarliestBegin: next})
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(context.Background(), Request{ID: "cycle", EarliestBegin: time.Now().Add(-time.Second)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunDue(context.Background()); err != nil {
		t.Fatal(err)
	}
	p, err := s.Pending("cycle")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || !p.EarliestBegin.Equal(next) {
		t.Errorf("pending = %+v, want resubmitted request at %v", p, next)
	}
}

func TestBudgetCancelsHandler(t *testing.T) {
	s := New(newTestStore(t), time.Second, 20*time.Millisecond, nil)
	expired := make(chan bool, 1)
	if err := s.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			expired <- true
			return ctx.Err()
		case <-time.After(5 * time.Second):
			expired <- false
			return nil
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(context.Background(), Request{ID: "slow", EarliestBegin: time.Now().Add(-time.Second)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunDue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !<-expired {
		t.Error("handler context was not cancelled at budget expiry")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(newTestStore(t), 10*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run error = %v", err)
	}
}
