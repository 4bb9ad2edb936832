// Package extraction fills template placeholders from dictated text using a
// text-generation backend, with a regex fallback for unusable responses.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

// ServiceError reports that the generation backend could not be reached or
// did not answer in time.
type ServiceError struct {
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) ErrorKind() apperr.Kind { return apperr.KindExtractionServiceError }

func (e *ServiceError) PublicMessage() string { return e.Message }

// Client is stateless and safe for concurrent use.
type Client struct {
	generator llm.Generator
	cfg       config.LLMConfig
	timeout   time.Duration
	logger    *slog.Logger
}

func NewClient(generator llm.Generator, llmCfg config.LLMConfig, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		generator: generator,
		cfg:       llmCfg,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "extraction")),
	}
}

// Extract asks the backend to fill templateBody from rawText. The result
// holds exactly the template's placeholders. Undecodable output yields a
// *ParseError; transport faults and timeouts yield a *ServiceError.
func (c *Client) Extract(ctx context.Context, rawText, templateBody string) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := llm.RequestFromConfig(c.cfg, fmt.Sprintf(extractionPrompt, rawText, templateBody))
	req.System = systemPrompt
	req.JSON = true

	raw, err := llm.Complete(ctx, c.generator, req)
	if err != nil {
		return nil, serviceError(ctx, err)
	}

	result, err := Decode(raw)
	if err != nil {
		c.logger.Error("failed to parse extraction response",
			slog.String("error", err.Error()),
			slog.String("raw", raw),
		)
		return nil, err
	}
	return Complete(result, templates.Placeholders(templateBody)), nil
}

func serviceError(ctx context.Context, err error) *ServiceError {
	switch {
	case errors.Is(err, llm.ErrDisabled):
		return &ServiceError{Message: llm.ErrDisabled.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ServiceError{Message: "extraction service timed out", Err: err}
	default:
		return &ServiceError{Message: "extraction service unavailable", Err: err}
	}
}
