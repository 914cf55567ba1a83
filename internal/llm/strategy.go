package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/reminisce/internal/model"
)

// strategy holds the per-problem-type checks applied to decoded model output.
type strategy struct {
	validate func(*model.GeneratedExercise) error
}

var strategies = map[model.ProblemType]strategy{
	model.ProblemWordArrangement: {validate: validateWordArrangement},
	model.ProblemFillInTheBlank:  {validate: validateFillInTheBlank},
	model.ProblemSpeaking:        {validate: validateOpenAnswer},
	model.ProblemWriting:         {validate: validateOpenAnswer},
}

func validateOpenAnswer(ex *model.GeneratedExercise) error {
	if ex.Question == "" {
		return errors.New("missing question")
	}
	if ex.Answer == "" {
		return errors.New("missing answer")
	}
	return nil
}

func validateWordArrangement(ex *model.GeneratedExercise) error {
	if err := validateOpenAnswer(ex); err != nil {
		return err
	}
	words := strings.Fields(ex.Answer)
	if len(words) < 2 {
		return fmt.Errorf("answer %q has too few words to arrange", ex.Answer)
	}
	if len(ex.Options) == 0 {
		ex.Options = reversed(words)
	}
	return nil
}

func validateFillInTheBlank(ex *model.GeneratedExercise) error {
	if err := validateOpenAnswer(ex); err != nil {
		return err
	}
	words := strings.Fields(ex.Answer)
	var kept []int
	for _, p := range ex.BlankPositions {
		if p >= 0 && p < len(words) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return fmt.Errorf("no blank position inside answer of %d words", len(words))
	}
	ex.BlankPositions = kept
	return nil
}

func reversed(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[len(words)-1-i] = w
	}
	return out
}
