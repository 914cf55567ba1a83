package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/reminisce/internal/i18n"
	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/store"
)

type fakeCycles struct {
	calls int
	err   error
}

func (f *fakeCycles) RequestCycle(context.Context) error {
	f.calls++
	return f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, s *store.Store, cycles CycleRequester) *httptest.Server {
	t.Helper()
	h, err := New(s, cycles)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func saveExercise(t *testing.T, s *store.Store, id, participant string, created time.Time) model.Exercise {
	t.Helper()
	e := model.Exercise{
		ID:             id,
		ParticipantID:  participant,
		Image:          model.ImageRef{RemoteURL: "https://img.example.com/" + id + ".jpg"},
		PhotoDate:      created.AddDate(0, -6, 0),
		Window:         model.WindowSixMonths,
		Language:       "fi",
		ProblemType:    model.ProblemWordArrangement,
		QuestionText:   "Järjestä sanat",
		CorrectAnswers: []string{"kissa", "istuu", "puussa"},
		Options:        []string{"puussa", "kissa", "istuu"},
		Difficulty:     2,
		Tags:           []string{},
		GeneratedBy:    "test",
		CreatedAt:      created,
	}
	if err := s.SaveExercise(e); err != nil {
		t.Fatalf("SaveExercise: %v", err)
	}
	return e
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	got := decode[map[string]string](t, resp)
	if resp.StatusCode != http.StatusOK || got["status"] != "ok" {
		t.Errorf("status = %d %v", resp.StatusCode, got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestListExercises(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)
	saveExercise(t, s, "ex-1", model.DefaultParticipantID, now.Add(-2*time.Hour))
	saveExercise(t, s, "ex-2", model.DefaultParticipantID, now.Add(-time.Hour))
	saveExercise(t, s, "ex-3", "someone-else", now)
	srv := newTestServer(t, s, nil)

	tests := []struct {
		name    string
		query   string
		lang    string
		wantIDs []string
		summary string
		label   string
	}{
		{"default participant", "", "", []string{"ex-2", "ex-1"}, "2 exercises", "6 months ago"},
		{"limit", "?limit=1", "", []string{"ex-2"}, "1 exercise", "6 months ago"},
		{"other participant", "?participant=someone-else", "", []string{"ex-3"}, "1 exercise", "6 months ago"},
		{"japanese", "?limit=1", "ja", []string{"ex-2"}, "1件の練習問題", "6か月前"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/exercises"+tt.query, nil)
			if tt.lang != "" {
				req.Header.Set("Accept-Language", tt.lang)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			got := decode[listResponse](t, resp)
			if len(got.Exercises) != len(tt.wantIDs) {
				t.Fatalf("got %d exercises, want %d", len(got.Exercises), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got.Exercises[i].ID != id {
					t.Errorf("exercise[%d] = %q, want %q", i, got.Exercises[i].ID, id)
				}
			}
			if got.Summary != tt.summary {
				t.Errorf("summary = %q, want %q", got.Summary, tt.summary)
			}
			if got.Exercises[0].WindowLabel != tt.label {
				t.Errorf("window label = %q, want %q", got.Exercises[0].WindowLabel, tt.label)
			}
		})
	}
}

func TestListExercisesRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil)
	for _, q := range []string{"?limit=abc", "?limit=0", "?limit=-3"} {
		resp, err := http.Get(srv.URL + "/exercises" + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestGetExercise(t *testing.T) {
	s := newTestStore(t)
	saveExercise(t, s, "ex-1", "p1", time.Now().Truncate(time.Second))
	srv := newTestServer(t, s, nil)

	resp, err := http.Get(srv.URL + "/exercises/ex-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	got := decode[exerciseView](t, resp)
	if got.ID != "ex-1" || got.QuestionText != "Järjestä sanat" {
		t.Errorf("got %+v", got.Exercise)
	}

	resp, err = http.Get(srv.URL + "/exercises/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAnswer(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantCorrect bool
		wantMessage string
	}{
		{"correct", `{"answer":"Kissa istuu puussa."}`, http.StatusOK, true, "Correct!"},
		{"incorrect", `{"answer":"puussa kissa istuu"}`, http.StatusOK, false, "Not quite. The answer was: kissa istuu puussa"},
		{"empty", `{"answer":"  "}`, http.StatusBadRequest, false, ""},
		{"malformed", `{`, http.StatusBadRequest, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			saveExercise(t, s, "ex-1", "p1", time.Now().Truncate(time.Second))
			srv := newTestServer(t, s, nil)

			resp, err := http.Post(srv.URL+"/exercises/ex-1/answer", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				resp.Body.Close()
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				resp.Body.Close()
				return
			}
			got := decode[answerResponse](t, resp)
			if got.Correct != tt.wantCorrect || got.Message != tt.wantMessage {
				t.Errorf("got %+v", got)
			}

			ex, err := s.GetExercise("ex-1")
			if err != nil {
				t.Fatalf("GetExercise: %v", err)
			}
			if ex.IsCorrect == nil || *ex.IsCorrect != tt.wantCorrect || ex.CompletedAt == nil {
				t.Errorf("stored answer not recorded: %+v", ex)
			}
		})
	}
}

func TestImageRemoteRedirects(t *testing.T) {
	s := newTestStore(t)
	saveExercise(t, s, "ex-1", "p1", time.Now().Truncate(time.Second))
	srv := newTestServer(t, s, nil)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/exercises/ex-1/image")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://img.example.com/ex-1.jpg" {
		t.Errorf("location = %q", loc)
	}
}

func TestImageLocalServed(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "ex-1.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	e := saveExercise(t, s, "ex-0", "p1", time.Now().Truncate(time.Second))
	e.ID = "ex-local"
	e.Image = model.ImageRef{LocalPath: path}
	if err := s.SaveExercise(e); err != nil {
		t.Fatalf("SaveExercise: %v", err)
	}
	srv := newTestServer(t, s, nil)

	resp, err := http.Get(srv.URL + "/exercises/ex-local/image")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "jpeg-bytes" {
		t.Errorf("status = %d body = %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
}

func TestCycle(t *testing.T) {
	tests := []struct {
		name       string
		cycles     *fakeCycles
		wantStatus int
	}{
		{"submitted", &fakeCycles{}, http.StatusAccepted},
		{"submit fails", &fakeCycles{err: errors.New("db locked")}, http.StatusInternalServerError},
		{"not running", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cycles CycleRequester
			if tt.cycles != nil {
				cycles = tt.cycles
			}
			srv := newTestServer(t, newTestStore(t), cycles)
			resp, err := http.Post(srv.URL+"/cycle", "application/json", nil)
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.cycles != nil && tt.cycles.calls != 1 {
				t.Errorf("calls = %d, want 1", tt.cycles.calls)
			}
		})
	}
}

func TestCheckAnswer(t *testing.T) {
	tests := []struct {
		expected []string
		answer   string
		want     bool
	}{
		{[]string{"kissa", "istuu"}, "Kissa  istuu!", true},
		{[]string{"kissa", "istuu"}, "istuu kissa", false},
		{[]string{"猫"}, "猫。", true},
		{nil, "anything", false},
	}
	for _, tt := range tests {
		if got := checkAnswer(tt.expected, tt.answer); got != tt.want {
			t.Errorf("checkAnswer(%v, %q) = %v, want %v", tt.expected, tt.answer, got, tt.want)
		}
	}
}
