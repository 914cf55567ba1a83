package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/reminisce/internal/llm"
	"github.com/pavelanni/reminisce/internal/model"
)

// ProfileSource resolves a participant's profile. A nil profile means none is stored.
type ProfileSource interface {
	GetProfile(participantID string) (*model.UserProfile, error)
}

// Uploader stores consented photos remotely.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// Generator turns a photo into a structured exercise.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*model.GeneratedExercise, error)
}

// ImageCache is the app-private store for photos that were not uploaded.
type ImageCache interface {
	Save(exerciseID string, data []byte) (string, error)
	Remove(path string) error
}

// ConsentRouter builds an exercise from photo bytes, uploading the photo only
// when the participant consented to cloud storage.
type ConsentRouter struct {
	profiles    ProfileSource
	uploader    Uploader
	generator   Generator
	images      ImageCache
	rng         *rand.Rand
	newID       func() string
	now         func() time.Time
	callTimeout time.Duration
}

// Process runs the consented or local path for one photo. Language settings
// come from the snapshot, never from the caller's arguments.
func (r *ConsentRouter) Process(ctx context.Context, st model.Settings, data []byte, w model.LookbackWindow, photoDate time.Time) (*model.Exercise, error) {
	profile := r.resolveProfile(st.ParticipantID)
	types := profile.ProblemTypes()
	pt := types[r.rng.IntN(len(types))]

	id := r.newID()
	consent := profile != nil && profile.ConsentGiven
	log := slog.With("exercise_id", id, "participant_id", st.ParticipantID, "problem_type", pt, "consent", consent)

	req := llm.Request{
		Language:       st.Language,
		NativeLanguage: st.NativeLanguage,
		ProblemType:    pt,
	}
	var image model.ImageRef

	if consent {
		url, err := r.upload(ctx, data, id)
		if err != nil {
			return nil, err
		}
		log.Info("photo uploaded", "url", url)
		req.ImageURL = url
		image.RemoteURL = url
	} else {
		req.ImageData = data
	}

	gen, err := r.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if !consent {
		path, err := r.images.Save(id, data)
		if err != nil {
			return nil, fmt.Errorf("%w: save local image: %w", ErrPersistenceFailed, err)
		}
		log.Info("photo stored locally", "path", path)
		image.LocalPath = path
	}

	ex := &model.Exercise{
		ID:             id,
		ParticipantID:  st.ParticipantID,
		Image:          image,
		PhotoDate:      photoDate,
		Window:         w,
		Language:       st.Language,
		ProblemType:    pt,
		QuestionText:   gen.Question,
		CorrectAnswers: correctAnswers(gen),
		Options:        gen.Options,
		Explanation:    explanation(gen.Explanation, st.NativeLanguage),
		Difficulty:     gen.Difficulty,
		Tags:           gen.Tags,
		GeneratedBy:    gen.Model,
		CreatedAt:      r.now(),
	}
	if pt == model.ProblemFillInTheBlank {
		ex.BlankPositions = gen.BlankPositions
	}
	return ex, nil
}

// resolveProfile degrades to no profile, which means no consent and every
// problem type, when the lookup fails.
func (r *ConsentRouter) resolveProfile(participantID string) *model.UserProfile {
	p, err := r.profiles.GetProfile(participantID)
	if err != nil {
		slog.Warn("profile lookup failed, assuming no consent", "participant_id", participantID, "error", err)
		return nil
	}
	return p
}

func (r *ConsentRouter) upload(ctx context.Context, data []byte, id string) (string, error) {
	if r.uploader == nil {
		return "", fmt.Errorf("%w: no upload backend configured", ErrNetwork)
	}
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	url, err := r.uploader.Upload(ctx, data, id+".jpg")
	if err != nil {
		return "", fmt.Errorf("%w: upload photo: %w", ErrNetwork, err)
	}
	return url, nil
}

func (r *ConsentRouter) generate(ctx context.Context, req llm.Request) (*model.GeneratedExercise, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	gen, err := r.generator.Generate(ctx, req)
	switch {
	case errors.Is(err, llm.ErrTransport):
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return gen, nil
}

// correctAnswers lists the accepted answers: the blanked words for
// fill-in-the-blank, otherwise the answer's words.
func correctAnswers(g *model.GeneratedExercise) []string {
	words := strings.Fields(g.Answer)
	if g.ProblemType != model.ProblemFillInTheBlank {
		return words
	}
	var out []string
	for _, p := range g.BlankPositions {
		if p >= 0 && p < len(words) {
			out = append(out, words[p])
		}
	}
	if len(out) == 0 {
		return []string{g.Answer}
	}
	return out
}

func explanation(byLang map[string]string, native model.Language) string {
	if s := byLang[string(native)]; s != "" {
		return s
	}
	if s := byLang[string(model.DefaultNativeLanguage)]; s != "" {
		return s
	}
	keys := make([]string, 0, len(byLang))
	for k := range byLang {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if byLang[k] != "" {
			return byLang[k]
		}
	}
	return ""
}
