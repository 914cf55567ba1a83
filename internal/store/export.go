package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/reminisce/internal/model"
)

// ExportExercises builds an export of a participant's exercises. An empty
// participant ID exports every exercise.
func (s *Store) ExportExercises(participantID string) (model.ExerciseExport, error) {
	var (
		exercises []model.Exercise
		err       error
	)
	if participantID == "" {
		exercises, err = s.ListAllExercises()
	} else {
		exercises, err = s.ListExercises(participantID, 0)
	}
	if err != nil {
		return model.ExerciseExport{}, fmt.Errorf("list exercises: %w", err)
	}
	if exercises == nil {
		exercises = []model.Exercise{}
	}

	return model.ExerciseExport{
		ParticipantID: participantID,
		ExportedAt:    time.Now().UTC(),
		Summary:       model.Summarize(exercises),
		Exercises:     exercises,
	}, nil
}
