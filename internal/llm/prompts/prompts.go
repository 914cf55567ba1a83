package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"text/template"

	"github.com/pavelanni/reminisce/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[model.ProblemType]*template.Template
)

// Data holds template data for exercise generation prompts.
type Data struct {
	Language       string
	LanguageCode   string
	NativeLanguage string
	NativeCode     string
	ImageURL       string
}

// Load parses the embedded prompt templates, one per problem type.
// It uses sync.Once to ensure templates are loaded only once.
func Load() error {
	return load(templateFS)
}

func load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[model.ProblemType]*template.Template)
		for _, pt := range model.AllProblemTypes() {
			file := "templates/" + string(pt) + ".txt"

			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}

			tmpl, err := template.New(string(pt)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[pt] = tmpl
		}
	})
	return loadErr
}

// Build renders the generation prompt for a problem type.
func Build(pt model.ProblemType, target, native model.Language, imageURL string) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[pt]
	if !ok {
		return "", errors.New("invalid problem type: " + string(pt))
	}

	data := Data{
		Language:       target.DisplayName(),
		LanguageCode:   string(target),
		NativeLanguage: native.DisplayName(),
		NativeCode:     string(native),
		ImageURL:       imageURL,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
