package extraction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/llm"
)

type fakeGenerator struct {
	out     string
	err     error
	block   bool
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	f.prompts = append(f.prompts, req.Prompt)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	return consumer(llm.Chunk{Content: f.out})
}

func newTestClient(g llm.Generator, timeout time.Duration) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(g, config.LLMConfig{MaxTokens: 256}, timeout, logger)
}

const testTemplate = "Date: {date}\nDx: {diagnosis}\nPlan: {plan}"

func TestExtractCompletesPlaceholders(t *testing.T) {
	gen := &fakeGenerator{out: "```json\n" + `{
		"date": {"value": "2024-03-01", "confidence": 1.0, "source": "explicit"},
		"diagnosis": {"value": "GERD", "confidence": 1.7, "source": "contextual"},
		"extra": {"value": "dropped", "confidence": 0.9}
	}` + "\n```"}
	res, err := newTestClient(gen, time.Second).Extract(context.Background(), "seen on march first for GERD", testTemplate)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected exactly the 3 placeholders, got %v", res)
	}
	if _, ok := res["extra"]; ok {
		t.Fatal("keys outside the template must be dropped")
	}
	if res["diagnosis"].Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", res["diagnosis"].Confidence)
	}
	if got := res["plan"]; got.Value != "" || got.Confidence != 0 || got.Source != SourceFallback {
		t.Fatalf("expected missing placeholder filled as fallback, got %+v", got)
	}
	if !strings.Contains(gen.prompts[0], "seen on march first for GERD") || !strings.Contains(gen.prompts[0], testTemplate) {
		t.Fatal("prompt must embed the raw text and template body")
	}
}

func TestExtractParseError(t *testing.T) {
	gen := &fakeGenerator{out: "Sure! Here are the fields you asked for."}
	_, err := newTestClient(gen, time.Second).Extract(context.Background(), "text", testTemplate)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Raw != gen.out {
		t.Fatalf("parse error must carry the raw text, got %q", pe.Raw)
	}
	if apperr.KindOf(err) != apperr.KindExtractionParseError {
		t.Fatalf("unexpected kind %s", apperr.KindOf(err))
	}
}

func TestExtractServiceErrors(t *testing.T) {
	cases := map[string]struct {
		gen  *fakeGenerator
		want string
	}{
		"transport": {&fakeGenerator{err: errors.New("connection refused")}, "extraction service unavailable"},
		"timeout":   {&fakeGenerator{block: true}, "extraction service timed out"},
		"disabled":  {&fakeGenerator{err: llm.ErrDisabled}, "text generation is not configured"},
	}
	for name, tc := range cases {
		_, err := newTestClient(tc.gen, 20*time.Millisecond).Extract(context.Background(), "text", testTemplate)
		var se *ServiceError
		if !errors.As(err, &se) {
			t.Errorf("%s: expected ServiceError, got %v", name, err)
			continue
		}
		if apperr.KindOf(err) != apperr.KindExtractionServiceError {
			t.Errorf("%s: unexpected kind %s", name, apperr.KindOf(err))
		}
		if apperr.Message(err) != tc.want {
			t.Errorf("%s: message = %q, want %q", name, apperr.Message(err), tc.want)
		}
	}
}

func TestDecodeTolerance(t *testing.T) {
	res, err := Decode(`{
		"a": "bare string",
		"b": {"value": 42, "confidence": "0.85", "source": "EXPLICIT"},
		"c": {"value": "x", "confidence": -3, "source": "made-up"},
		"d": {"value": null, "confidence": 0.2, "source": "fallback"},
		"e": null
	}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Result{
		"a": {Value: "bare string", Confidence: 0.5, Source: SourceInferred},
		"b": {Value: "42", Confidence: 0.85, Source: SourceExplicit},
		"c": {Value: "x", Confidence: 0, Source: SourceInferred},
		"d": {Value: "", Confidence: 0.2, Source: SourceInferred},
		"e": {Value: "", Confidence: 0, Source: SourceInferred},
	}
	for k, w := range want {
		if res[k] != w {
			t.Errorf("%s = %+v, want %+v", k, res[k], w)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"null",
		"[1, 2]",
		`{"a": 12}`,
		`{"a": {"value": "x", "confidence": "high"}}`,
		"~~~json\n{}\n~~~",
	} {
		if _, err := Decode(raw); err == nil {
			t.Errorf("Decode(%q) expected error", raw)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"Dx: {diagnosis}":         "Dx: {diagnosis}",
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Errorf("StripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFallback(t *testing.T) {
	text := "Patient seen today. Diagnosis: acute gastritis. Plan follow up in two weeks. Notes pending"
	res := Fallback(text, "Dx: {diagnosis}\nPlan: {plan}\nMeds: {medications}")
	if len(res) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(res))
	}
	for name, f := range res {
		if f.Source != SourceFallback {
			t.Errorf("%s: expected fallback source, got %s", name, f.Source)
		}
	}
	if got := res["diagnosis"]; got.Value != "acute gastritis" || got.Confidence != 0.5 {
		t.Fatalf("unexpected diagnosis %+v", got)
	}
	if got := res["plan"]; got.Value != "follow up in two weeks" {
		t.Fatalf("unexpected plan %+v", got)
	}
	if got := res["medications"]; got.Value != "" || got.Confidence != 0 {
		t.Fatalf("unexpected medications %+v", got)
	}
}

func TestFallbackWholeWordOnly(t *testing.T) {
	res := Fallback("Subplan: none. Planning later.", "{plan}")
	if res["plan"].Value != "" {
		t.Fatalf("expected no match inside other words, got %+v", res["plan"])
	}
}

func TestCompleteEmptyTemplate(t *testing.T) {
	if got := Complete(Result{"a": {Value: "x"}}, nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
