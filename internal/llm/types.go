package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	// JSON asks backends that support it for a JSON-only response body.
	JSON    bool
	TraceID string
}

// Chunk represents streamed model output.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// ErrDisabled is returned by the disabled generator.
var ErrDisabled = errors.New("text generation is not configured")

// Complete runs a generation and returns the concatenated output.
func Complete(ctx context.Context, g Generator, req Request) (string, error) {
	var b strings.Builder
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// RequestFromConfig builds a request carrying the configured sampling defaults.
func RequestFromConfig(cfg config.LLMConfig, prompt string) Request {
	return Request{Prompt: prompt, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}

// New builds the generator selected by cfg.Mode. A disabled config yields a
// generator that fails every call with ErrDisabled.
func New(cfg config.LLMConfig) (Generator, error) {
	if !cfg.Enabled {
		return disabledGenerator{}, nil
	}
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "google":
		return NewGoogleGenerator(cfg.APIKey, cfg.Model, cfg.Endpoint), nil
	case "anthropic":
		return NewAnthropicGenerator(cfg.APIKey, cfg.Model, cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

type disabledGenerator struct{}

func (disabledGenerator) Generate(context.Context, Request, func(Chunk) error) error {
	return ErrDisabled
}
