package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/reminisce/internal/i18n"
	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// CycleRequester submits an immediate generation request.
type CycleRequester interface {
	RequestCycle(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	cycles CycleRequester
}

// New creates a new Handler. cycles may be nil, in which case POST /cycle
// answers 503.
func New(s *store.Store, cycles CycleRequester) (*Handler, error) {
	if s == nil {
		return nil, errors.New("handler: store is required")
	}
	return &Handler{store: s, cycles: cycles}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/exercises", h.handleListExercises)
	r.Get("/exercises/{id}", h.handleGetExercise)
	r.Post("/exercises/{id}/answer", h.handleAnswer)
	r.Get("/exercises/{id}/image", h.handleImage)
	r.Post("/cycle", h.handleCycle)
}

type exerciseView struct {
	model.Exercise
	WindowLabel string `json:"window_label"`
}

type listResponse struct {
	ParticipantID string         `json:"participant_id"`
	Summary       string         `json:"summary"`
	Exercises     []exerciseView `json:"exercises"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Correct        bool     `json:"correct"`
	Message        string   `json:"message"`
	CorrectAnswers []string `json:"correct_answers"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.GetSetting(store.SettingLanguage); err != nil {
		http.Error(w, "database unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListExercises(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		st, err := h.store.GetSettings()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		participant = st.ParticipantID
	}

	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	exercises, err := h.store.ListExercises(participant, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	views := make([]exerciseView, 0, len(exercises))
	for _, e := range exercises {
		views = append(views, exerciseView{Exercise: e, WindowLabel: i18n.WindowLabel(ctx, e.Window)})
	}
	writeJSON(w, http.StatusOK, listResponse{
		ParticipantID: participant,
		Summary:       i18n.Tp(ctx, "ExercisesListed", len(views)),
		Exercises:     views,
	})
}

func (h *Handler) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, ok := h.loadExercise(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, exerciseView{Exercise: *ex, WindowLabel: i18n.WindowLabel(r.Context(), ex.Window)})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ex, ok := h.loadExercise(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	answer := strings.TrimSpace(req.Answer)
	if answer == "" {
		http.Error(w, "answer is required", http.StatusBadRequest)
		return
	}

	correct := checkAnswer(ex.CorrectAnswers, answer)
	if err := h.store.RecordAnswer(ex.ID, answer, correct); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("answer recorded", "exercise_id", ex.ID, "correct", correct)

	ctx := r.Context()
	msg := i18n.T(ctx, "AnswerCorrect")
	if !correct {
		msg = i18n.Td(ctx, "AnswerIncorrect", map[string]any{
			"Answer": strings.Join(ex.CorrectAnswers, " "),
		})
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Correct:        correct,
		Message:        msg,
		CorrectAnswers: ex.CorrectAnswers,
	})
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	ex, ok := h.loadExercise(w, r)
	if !ok {
		return
	}
	if ex.Image.RemoteURL != "" {
		http.Redirect(w, r, ex.Image.RemoteURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, ex.Image.LocalPath)
}

func (h *Handler) handleCycle(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		http.Error(w, "generation is not running", http.StatusServiceUnavailable)
		return
	}
	if err := h.cycles.RequestCycle(r.Context()); err != nil {
		slog.Error("failed to submit cycle request", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: i18n.T(r.Context(), "CycleSubmitted")})
}

func (h *Handler) loadExercise(w http.ResponseWriter, r *http.Request) (*model.Exercise, bool) {
	ex, err := h.store.GetExercise(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "exercise not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return ex, true
}

// checkAnswer compares answer with the expected words, ignoring case,
// surrounding punctuation and whitespace differences.
func checkAnswer(expected []string, answer string) bool {
	if len(expected) == 0 {
		return false
	}
	return normalize(answer) == normalize(strings.Join(expected, " "))
}

func normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'。、！？「」")
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
