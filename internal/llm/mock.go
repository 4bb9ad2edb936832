package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// mockGenerator answers without a model. Prompts that carry a template
// (a "TEMPLATE:" section) get a JSON object filling each placeholder with a
// low-confidence inferred value; anything else is echoed back.
type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

var mockPlaceholderRE = regexp.MustCompile(`\{(\w+)\}`)

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	content := "[mock completion for " + strings.TrimSpace(req.Prompt) + "]"
	if tpl, ok := templateSection(req.Prompt); ok {
		fields := map[string]any{}
		for _, m := range mockPlaceholderRE.FindAllStringSubmatch(tpl, -1) {
			fields[m[1]] = map[string]any{"value": "", "confidence": 0.5, "source": "inferred"}
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		content = string(data)
	}
	return consumer(Chunk{
		Content: content,
		Partial: false,
		Latency: 20 * time.Millisecond,
		TraceID: req.TraceID,
	})
}

func templateSection(prompt string) (string, bool) {
	_, rest, ok := strings.Cut(prompt, "TEMPLATE:")
	if !ok {
		return "", false
	}
	if end := strings.Index(rest, "INSTRUCTIONS:"); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}
