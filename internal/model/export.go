package model

import "time"

// ExerciseExport is the top-level JSON structure for exercise export.
type ExerciseExport struct {
	ParticipantID string        `json:"participant_id"`
	ExportedAt    time.Time     `json:"exported_at"`
	Summary       ExportSummary `json:"summary"`
	Exercises     []Exercise    `json:"exercises"`
}

// ExportSummary aggregates exercise counts for export.
type ExportSummary struct {
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Correct   int                 `json:"correct"`
	Remote    int                 `json:"remote"`
	Local     int                 `json:"local"`
	ByWindow  map[string]int      `json:"by_window"`
	ByType    map[ProblemType]int `json:"by_type"`
}

// Summarize counts exercises by outcome, image path, window, and problem type.
func Summarize(exercises []Exercise) ExportSummary {
	s := ExportSummary{
		Total:    len(exercises),
		ByWindow: make(map[string]int),
		ByType:   make(map[ProblemType]int),
	}
	for _, e := range exercises {
		if e.CompletedAt != nil {
			s.Completed++
		}
		if e.IsCorrect != nil && *e.IsCorrect {
			s.Correct++
		}
		if e.Image.RemoteURL != "" {
			s.Remote++
		} else if e.Image.LocalPath != "" {
			s.Local++
		}
		s.ByWindow[e.Window.String()]++
		s.ByType[e.ProblemType]++
	}
	return s
}
