package prompts

import (
	"strings"
	"testing"

	"github.com/pavelanni/reminisce/internal/model"
)

func TestBuildAllProblemTypes(t *testing.T) {
	for _, pt := range model.AllProblemTypes() {
		t.Run(string(pt), func(t *testing.T) {
			got, err := Build(pt, "fi", "ja", "")
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !strings.Contains(got, "Finnish") {
				t.Errorf("prompt does not name the target language:\n%s", got)
			}
			if !strings.Contains(got, "Japanese") {
				t.Errorf("prompt does not name the native language:\n%s", got)
			}
			if !strings.Contains(got, `"ja"`) {
				t.Errorf("prompt does not request a ja explanation:\n%s", got)
			}
			if strings.Contains(got, "available at") {
				t.Errorf("prompt mentions an image url when none was given:\n%s", got)
			}
		})
	}
}

func TestBuildWithImageURL(t *testing.T) {
	got, err := Build(model.ProblemWriting, "de", "en", "https://img.example.com/a.jpg")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "https://img.example.com/a.jpg") {
		t.Errorf("prompt is missing the image url:\n%s", got)
	}
}

func TestBuildUnknownType(t *testing.T) {
	if _, err := Build("crossword", "fi", "ja", ""); err == nil {
		t.Error("expected error for unknown problem type")
	}
}
