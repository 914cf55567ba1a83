package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/reminisce/internal/llm/prompts"
	"github.com/pavelanni/reminisce/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoCredentials is returned when no API key is configured.
	ErrNoCredentials = errors.New("llm api key is not configured")
	// ErrTransport wraps failures to reach the service.
	ErrTransport = errors.New("llm transport error")
	// ErrUpstream wraps error responses from a reachable service.
	ErrUpstream = errors.New("llm service error")
	// ErrBadResponse wraps responses that could not be decoded into an exercise.
	ErrBadResponse = errors.New("invalid llm response")
)

// Request describes one exercise generation call. Exactly one of ImageURL and
// ImageData is used; ImageURL wins if both are set.
type Request struct {
	ImageURL       string
	ImageData      []byte
	Language       model.Language
	NativeLanguage model.Language
	ProblemType    model.ProblemType
}

// Client wraps an OpenAI-compatible vision model API.
type Client struct {
	api    *openai.Client
	model  string
	hasKey bool
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(config),
		model:  modelName,
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if !c.hasKey {
		return ErrNoCredentials
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// Generate asks the model to build an exercise of the requested type from a photo.
func (c *Client) Generate(ctx context.Context, req Request) (*model.GeneratedExercise, error) {
	if !c.hasKey {
		return nil, ErrNoCredentials
	}
	strat, ok := strategies[req.ProblemType]
	if !ok {
		return nil, fmt.Errorf("unsupported problem type %q", req.ProblemType)
	}

	imageURL := req.ImageURL
	if imageURL == "" {
		if len(req.ImageData) == 0 {
			return nil, errors.New("image is required")
		}
		imageURL = dataURL(req.ImageData)
	}

	prompt, err := prompts.Build(req.ProblemType, req.Language, req.NativeLanguage, req.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return nil, classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "problem_type", req.ProblemType, "raw", raw)

	var ex model.GeneratedExercise
	if err := json.Unmarshal([]byte(extractJSON(raw)), &ex); err != nil {
		return nil, fmt.Errorf("%w: %v (raw: %s)", ErrBadResponse, err, truncate(raw, 240))
	}
	ex.ProblemType = req.ProblemType
	ex.Model = c.model
	ex.Question = strings.TrimSpace(ex.Question)
	ex.Answer = strings.TrimSpace(ex.Answer)
	ex.Difficulty = min(max(ex.Difficulty, 1), 5)

	if err := strat.validate(&ex); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &ex, nil
}

// classify sorts a client error into transport or upstream failures.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: status %d: %v", ErrUpstream, apiErr.HTTPStatusCode, err)
	case errors.As(err, &reqErr):
		return fmt.Errorf("%w: status %d: %v", ErrUpstream, reqErr.HTTPStatusCode, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}

func dataURL(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// extractJSON strips any text around the outermost JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
