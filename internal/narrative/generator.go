// Package narrative turns a generation request into a validated manuscript
// by prompting a text-generation backend and parsing its JSON output.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/storyforge/storyforge/internal/book"
)

// TextBackend produces free text from a prompt. The response is expected to
// contain one JSON object matching the manuscript shape, possibly surrounded
// by commentary.
type TextBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenerationError means the backend could not produce a parseable,
// schema-valid manuscript. Validation failures fold into it.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("narrative generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// OpenAIConfig holds configuration for the OpenAI text backend.
type OpenAIConfig struct {
	APIKey      string
	Model       string        // default "gpt-4.1"
	Temperature float64       // default 0.7
	Timeout     time.Duration // HTTP timeout
	BaseURL     string        // Optional (tests)
	HTTPClient  *http.Client  // Optional (tests)
}

// OpenAIBackend implements TextBackend using the official OpenAI SDK.
type OpenAIBackend struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAIBackend creates a new OpenAI chat-completion backend.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIBackend{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete sends a single chat completion request and returns the raw text.
func (b *OpenAIBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(b.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Generator produces manuscripts from generation requests.
type Generator struct {
	backend TextBackend
	logger  *slog.Logger
}

// NewGenerator creates a Generator backed by the given text backend.
func NewGenerator(backend TextBackend, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{backend: backend, logger: logger}
}

// Generate builds the story prompt, invokes the backend, and extracts and
// validates the manuscript. On an unusable response it retries the backend
// exactly once with an amended prompt before failing with GenerationError.
func (g *Generator) Generate(ctx context.Context, req book.GenerationRequest) (book.Manuscript, error) {
	var zero book.Manuscript

	prompt, err := buildStoryPrompt(req.AgeRange, req.Characters, req.StoryPrompt, req.TargetPageCount)
	if err != nil {
		return zero, &GenerationError{Err: err}
	}

	m, firstErr := g.attempt(ctx, prompt)
	if firstErr == nil {
		return m, nil
	}
	if ctx.Err() != nil {
		return zero, &GenerationError{Err: firstErr}
	}

	g.logger.Warn("manuscript attempt unusable, retrying once",
		"error", firstErr)

	m, retryErr := g.attempt(ctx, buildRetryPrompt(prompt, firstErr.Error()))
	if retryErr != nil {
		return zero, &GenerationError{Err: retryErr}
	}
	return m, nil
}

func (g *Generator) attempt(ctx context.Context, prompt string) (book.Manuscript, error) {
	var zero book.Manuscript

	content, err := g.backend.Complete(ctx, prompt)
	if err != nil {
		return zero, err
	}

	raw, err := ExtractJSON(content)
	if err != nil {
		return zero, err
	}

	m, err := ValidateManuscript([]byte(raw))
	if err != nil {
		return zero, err
	}
	return m, nil
}
