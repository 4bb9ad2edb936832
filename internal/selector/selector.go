// Package selector recommends a stored template for a dictation and drafts
// new templates when none fits.
package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/extraction"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

const defaultProcedureType = "clinical encounter"

// Selection is the recommended template for a dictation. RecommendedKey is
// empty whenever RequiresDynamic is set.
type Selection struct {
	RecommendedKey  string  `json:"recommended_template"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	RequiresDynamic bool    `json:"requires_dynamic"`
	ProcedureType   string  `json:"procedure_type"`
}

type Selector struct {
	store     *templates.Store
	generator llm.Generator
	cfg       config.LLMConfig
	timeout   time.Duration
	logger    *slog.Logger
}

func New(store *templates.Store, generator llm.Generator, llmCfg config.LLMConfig, timeout time.Duration, logger *slog.Logger) *Selector {
	return &Selector{
		store:     store,
		generator: generator,
		cfg:       llmCfg,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "selector")),
	}
}

// Select recommends one of the stored templates for rawText. With no stored
// templates it reports RequiresDynamic without calling the backend.
func (s *Selector) Select(ctx context.Context, rawText string) (Selection, error) {
	if strings.TrimSpace(rawText) == "" {
		return Selection{}, apperr.InvalidRequest("missing 'text'")
	}
	keys := s.store.Keys()
	if len(keys) == 0 {
		return Selection{RequiresDynamic: true, Reasoning: "no stored templates"}, nil
	}

	list := make([]string, len(keys))
	for i, k := range keys {
		list[i] = "- " + k
	}
	raw, err := s.complete(ctx, fmt.Sprintf(selectionPrompt, strings.Join(list, "\n"), rawText), true)
	if err != nil {
		return Selection{}, err
	}

	var sel Selection
	if err := json.Unmarshal([]byte(extraction.StripFences(raw)), &sel); err != nil {
		s.logger.Error("failed to parse template selection",
			slog.String("error", err.Error()),
			slog.String("raw", raw))
		return Selection{}, apperr.GenerationServiceError("could not parse template selection", err)
	}
	sel.Confidence = clamp(sel.Confidence)
	sel.RecommendedKey = strings.TrimSpace(sel.RecommendedKey)
	if sel.RecommendedKey != "" {
		if _, err := s.store.Get(sel.RecommendedKey); err != nil {
			s.logger.Warn("backend recommended an unknown template",
				slog.String("template_key", sel.RecommendedKey))
			sel.RecommendedKey = ""
			sel.RequiresDynamic = true
		}
	} else {
		sel.RequiresDynamic = true
	}
	if sel.RequiresDynamic {
		sel.RecommendedKey = ""
	}
	return sel, nil
}

// Generate drafts a template body for rawText. The body is plain text with at
// least one placeholder in the store's grammar.
func (s *Selector) Generate(ctx context.Context, rawText, procedureType string) (string, error) {
	if strings.TrimSpace(rawText) == "" {
		return "", apperr.InvalidRequest("missing 'text'")
	}
	if strings.TrimSpace(procedureType) == "" {
		procedureType = defaultProcedureType
	}
	raw, err := s.complete(ctx, fmt.Sprintf(generationPrompt, procedureType, rawText), false)
	if err != nil {
		return "", err
	}

	body := extraction.StripFences(raw)
	if looksLikeJSON(body) {
		return "", apperr.GenerationServiceError("generated template was JSON-wrapped", nil).
			WithDetails(map[string]any{"procedure_type": procedureType})
	}
	if len(templates.Placeholders(body)) == 0 {
		return "", apperr.GenerationServiceError("generated template has no placeholders", nil).
			WithDetails(map[string]any{"procedure_type": procedureType})
	}
	s.logger.Info("template generated",
		slog.String("procedure_type", procedureType),
		slog.Int("fields", len(templates.Placeholders(body))))
	return body, nil
}

func (s *Selector) complete(ctx context.Context, prompt string, jsonOut bool) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	req := llm.RequestFromConfig(s.cfg, prompt)
	req.System = systemPrompt
	req.JSON = jsonOut
	raw, err := llm.Complete(ctx, s.generator, req)
	if err != nil {
		s.logger.Error("generation request failed", slog.String("error", err.Error()))
		switch {
		case errors.Is(err, llm.ErrDisabled):
			return "", apperr.GenerationServiceError(llm.ErrDisabled.Error(), err)
		case errors.Is(err, context.DeadlineExceeded):
			return "", apperr.GenerationServiceError("generation service timed out", err)
		default:
			return "", apperr.GenerationServiceError("generation service unavailable", err)
		}
	}
	return raw, nil
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[' && s[0] != '"') {
		return false
	}
	return json.Valid([]byte(s))
}

func clamp(c float64) float64 {
	switch {
	case c != c, c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
