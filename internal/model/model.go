package model

import (
	"fmt"
	"strings"
	"time"
)

// LookbackWindow is a fixed day offset into the past whose photos are recall candidates.
type LookbackWindow int

const (
	WindowOneWeek   LookbackWindow = 7
	WindowOneMonth  LookbackWindow = 30
	WindowSixMonths LookbackWindow = 180
	WindowOneYear   LookbackWindow = 365
)

// Windows returns all lookback windows, most recent first.
func Windows() []LookbackWindow {
	return []LookbackWindow{WindowOneWeek, WindowOneMonth, WindowSixMonths, WindowOneYear}
}

// Days returns the window's offset in days.
func (w LookbackWindow) Days() int { return int(w) }

// Valid reports whether w is one of the four known windows.
func (w LookbackWindow) Valid() bool {
	switch w {
	case WindowOneWeek, WindowOneMonth, WindowSixMonths, WindowOneYear:
		return true
	}
	return false
}

func (w LookbackWindow) String() string {
	switch w {
	case WindowOneWeek:
		return "1w"
	case WindowOneMonth:
		return "1m"
	case WindowSixMonths:
		return "6m"
	case WindowOneYear:
		return "1y"
	}
	return fmt.Sprintf("%dd", int(w))
}

// DateRange returns the range target±1 day, where target is now minus the window.
func (w LookbackWindow) DateRange(now time.Time) (start, end time.Time) {
	target := now.AddDate(0, 0, -w.Days())
	return target.AddDate(0, 0, -1), target.AddDate(0, 0, 1)
}

// ParseWindow accepts either the short label ("1m") or the day count ("30").
func ParseWindow(s string) (LookbackWindow, error) {
	s = strings.TrimSpace(s)
	for _, w := range Windows() {
		if s == w.String() || s == fmt.Sprint(w.Days()) {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown lookback window %q", s)
}

// ProblemType selects the exercise shape generated from a photo.
type ProblemType string

const (
	ProblemWordArrangement ProblemType = "word_arrangement"
	ProblemFillInTheBlank  ProblemType = "fill_in_the_blank"
	ProblemSpeaking        ProblemType = "speaking"
	ProblemWriting         ProblemType = "writing"
)

// AllProblemTypes returns the full problem type set.
func AllProblemTypes() []ProblemType {
	return []ProblemType{ProblemWordArrangement, ProblemFillInTheBlank, ProblemSpeaking, ProblemWriting}
}

// Valid reports whether p is a known problem type.
func (p ProblemType) Valid() bool {
	switch p {
	case ProblemWordArrangement, ProblemFillInTheBlank, ProblemSpeaking, ProblemWriting:
		return true
	}
	return false
}

// ParseProblemType parses a problem type name.
func ParseProblemType(s string) (ProblemType, error) {
	p := ProblemType(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown problem type %q", s)
	}
	return p, nil
}

// Language is an ISO 639-1 code for a supported learning or native language.
type Language string

const (
	DefaultTargetLanguage Language = "fi"
	DefaultNativeLanguage Language = "ja"
)

// DefaultParticipantID is used when no participant has been configured.
const DefaultParticipantID = "local"

var languageNames = map[Language]string{
	"ja": "Japanese",
	"en": "English",
	"fi": "Finnish",
	"ru": "Russian",
	"es": "Spanish",
	"fr": "French",
	"it": "Italian",
	"ko": "Korean",
	"zh": "Chinese",
	"de": "German",
	"ky": "Kyrgyz",
	"kk": "Kazakh",
	"bg": "Bulgarian",
	"be": "Belarusian",
	"hy": "Armenian",
	"ar": "Arabic",
	"hi": "Hindi",
	"el": "Greek",
	"ga": "Irish",
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	_, ok := languageNames[l]
	return ok
}

// DisplayName returns the English name of the language, or the code if unknown.
func (l Language) DisplayName() string {
	if n, ok := languageNames[l]; ok {
		return n
	}
	return string(l)
}

// ImageRef points at the photo an exercise was generated from.
// Exactly one of RemoteURL and LocalPath is set.
type ImageRef struct {
	RemoteURL string `json:"remote_url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// Valid reports whether exactly one reference is populated.
func (r ImageRef) Valid() bool {
	return (r.RemoteURL == "") != (r.LocalPath == "")
}

// Exercise is a generated reminiscence exercise.
type Exercise struct {
	ID             string         `json:"id"`
	ParticipantID  string         `json:"participant_id"`
	Image          ImageRef       `json:"image"`
	PhotoDate      time.Time      `json:"photo_date"`
	Window         LookbackWindow `json:"window"`
	Language       Language       `json:"language"`
	ProblemType    ProblemType    `json:"problem_type"`
	QuestionText   string         `json:"question_text"`
	CorrectAnswers []string       `json:"correct_answers"`
	Options        []string       `json:"options"`
	BlankPositions []int          `json:"blank_positions,omitempty"`
	Explanation    string         `json:"explanation,omitempty"`
	Difficulty     int            `json:"difficulty"`
	Tags           []string       `json:"tags"`
	GeneratedBy    string         `json:"generated_by"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	UserAnswer     *string        `json:"user_answer,omitempty"`
	IsCorrect      *bool          `json:"is_correct,omitempty"`
	Notified       bool           `json:"notified"`
}

// UserProfile is the part of a participant's profile the recall engine reads.
type UserProfile struct {
	ParticipantID         string        `json:"participant_id"`
	ConsentGiven          bool          `json:"consent_given"`
	PreferredProblemTypes []ProblemType `json:"preferred_problem_types"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// ProblemTypes returns the preferred problem types, or all of them when none are set.
func (p *UserProfile) ProblemTypes() []ProblemType {
	if p == nil {
		return AllProblemTypes()
	}
	var out []ProblemType
	for _, t := range p.PreferredProblemTypes {
		if t.Valid() {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return AllProblemTypes()
	}
	return out
}

// Settings is the read-only snapshot of persisted user settings taken at the start of a cycle.
type Settings struct {
	ParticipantID  string
	Language       Language
	NativeLanguage Language
}

// GeneratedExercise is the structured output of the exercise generation service.
type GeneratedExercise struct {
	ProblemType    ProblemType       `json:"problem_type"`
	Question       string            `json:"question"`
	Answer         string            `json:"answer"`
	Options        []string          `json:"options"`
	BlankPositions []int             `json:"blank_positions"`
	Hints          []string          `json:"hints"`
	Explanation    map[string]string `json:"explanation"`
	Difficulty     int               `json:"difficulty"`
	Tags           []string          `json:"tags"`
	Model          string            `json:"-"`
}
