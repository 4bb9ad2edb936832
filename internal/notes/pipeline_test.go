package notes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/extraction"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

type stubExtractor struct {
	result extraction.Result
	err    error
	calls  int
}

func (s *stubExtractor) Extract(_ context.Context, _, _ string) (extraction.Result, error) {
	s.calls++
	return s.result, s.err
}

type memRecorder struct {
	mu      sync.Mutex
	records []metrics.TemplateMetric
	err     error
}

func (m *memRecorder) RecordTemplateUsage(_ context.Context, rec metrics.TemplateMetric) (metrics.TemplateMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return rec, m.err
	}
	m.records = append(m.records, rec)
	return rec, nil
}

const briefBody = "Date: {date}\nDx: {diagnosis}\nPlan: {plan}"

func newTestPipeline(ex Extractor, rec UsageRecorder) *Pipeline {
	store := templates.New(templates.Template{Key: "brief", Body: briefBody})
	return NewPipeline(store, ex, rec, 0.7, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessScoresAndRecords(t *testing.T) {
	ex := &stubExtractor{result: extraction.Result{
		"date":      {Value: "2024-03-01", Confidence: 1, Source: extraction.SourceExplicit},
		"diagnosis": {Value: "GERD", Confidence: 0.6, Source: extraction.SourceInferred},
		"bogus":     {Value: "x", Confidence: 1, Source: extraction.SourceExplicit},
	}}
	rec := &memRecorder{}
	note, err := newTestPipeline(ex, rec).Process(context.Background(), Request{Text: "dictation", TemplateKey: "brief"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	keys := make([]string, 0, len(note.Fields))
	for k := range note.Fields {
		keys = append(keys, k)
	}
	if len(keys) != 3 || note.Fields["plan"].Source != extraction.SourceFallback {
		t.Fatalf("expected exactly the template placeholders, got %v", note.Fields)
	}
	if math.Abs(note.Metadata.AvgConfidence-(1+0.6+0)/3) > 1e-9 {
		t.Fatalf("unexpected avg confidence %v", note.Metadata.AvgConfidence)
	}
	if !reflect.DeepEqual(note.Metadata.LowConfidenceFields, []string{"diagnosis", "plan"}) {
		t.Fatalf("unexpected low confidence fields %v", note.Metadata.LowConfidenceFields)
	}
	if note.Metadata.FallbackUsed || note.Metadata.TemplateSource != metrics.SourceStatic {
		t.Fatalf("unexpected metadata %+v", note.Metadata)
	}

	if len(rec.records) != 1 {
		t.Fatalf("expected exactly one metric, got %d", len(rec.records))
	}
	m := rec.records[0]
	if m.ID != note.ID || m.TemplateKey != "brief" || m.FieldCount != 3 || m.LowConfidenceCount != 2 {
		t.Fatalf("unexpected metric %+v", m)
	}
}

func TestProcessParseErrorFallsBack(t *testing.T) {
	ex := &stubExtractor{err: &extraction.ParseError{Raw: "not json", Err: errors.New("invalid character")}}
	rec := &memRecorder{}
	note, err := newTestPipeline(ex, rec).Process(context.Background(), Request{
		Text:        "Diagnosis: reflux esophagitis. Plan: PPI for eight weeks.",
		TemplateKey: "brief",
	})
	if err != nil {
		t.Fatalf("parse errors must not surface: %v", err)
	}
	for name, f := range note.Fields {
		if f.Source != extraction.SourceFallback {
			t.Errorf("%s: expected fallback source, got %s", name, f.Source)
		}
	}
	if note.Fields["diagnosis"].Value != "reflux esophagitis" || note.Fields["plan"].Value != "PPI for eight weeks" {
		t.Fatalf("unexpected fallback values %+v", note.Fields)
	}
	if !note.Metadata.FallbackUsed || len(rec.records) != 1 || !rec.records[0].FallbackUsed {
		t.Fatalf("expected one fallback metric, got %+v", rec.records)
	}
	if rec.records[0].TemplateSource != metrics.SourceStatic {
		t.Fatal("fallback must not change the template source")
	}
}

func TestProcessServiceErrorRecordsNothing(t *testing.T) {
	ex := &stubExtractor{err: &extraction.ServiceError{Message: "extraction service unavailable", Err: errors.New("dial tcp")}}
	rec := &memRecorder{}
	_, err := newTestPipeline(ex, rec).Process(context.Background(), Request{Text: "t", TemplateKey: "brief"})
	if apperr.KindOf(err) != apperr.KindExtractionServiceError {
		t.Fatalf("expected service error kind, got %v", err)
	}
	if len(rec.records) != 0 {
		t.Fatalf("service failures must not record metrics, got %d", len(rec.records))
	}
}

func TestProcessInvalidRequests(t *testing.T) {
	cases := map[string]struct {
		req  Request
		kind apperr.Kind
	}{
		"both":        {Request{Text: "t", TemplateKey: "brief", CustomTemplate: "{x}"}, apperr.KindInvalidRequest},
		"neither":     {Request{Text: "t"}, apperr.KindInvalidRequest},
		"empty text":  {Request{Text: "  ", TemplateKey: "brief"}, apperr.KindInvalidRequest},
		"unknown key": {Request{Text: "t", TemplateKey: "nope"}, apperr.KindNotFound},
	}
	for name, tc := range cases {
		ex := &stubExtractor{}
		rec := &memRecorder{}
		_, err := newTestPipeline(ex, rec).Process(context.Background(), tc.req)
		if apperr.KindOf(err) != tc.kind {
			t.Errorf("%s: expected %s, got %v", name, tc.kind, err)
		}
		if ex.calls != 0 || len(rec.records) != 0 {
			t.Errorf("%s: rejected requests must not reach extraction or metrics", name)
		}
	}
}

func TestProcessCustomTemplate(t *testing.T) {
	ex := &stubExtractor{result: extraction.Result{"finding": {Value: "polyp", Confidence: 0.9, Source: extraction.SourceExplicit}}}
	rec := &memRecorder{}
	note, err := newTestPipeline(ex, rec).Process(context.Background(), Request{Text: "t", CustomTemplate: "Finding: {finding}"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(note.Metadata.TemplateKey, templates.DynamicPrefix) || note.Metadata.TemplateSource != metrics.SourceDynamic {
		t.Fatalf("unexpected metadata %+v", note.Metadata)
	}
	if rec.records[0].TemplateSource != metrics.SourceDynamic {
		t.Fatal("expected dynamic source on the metric")
	}
}

func TestProcessTemplateWithoutPlaceholders(t *testing.T) {
	ex := &stubExtractor{result: extraction.Result{}}
	rec := &memRecorder{}
	note, err := newTestPipeline(ex, rec).Process(context.Background(), Request{Text: "t", CustomTemplate: "Normal exam."})
	if err != nil {
		t.Fatal(err)
	}
	if note.Metadata.AvgConfidence != 0 || note.Metadata.FieldCount != 0 {
		t.Fatalf("expected zero fields and 0.0 confidence, got %+v", note.Metadata)
	}
}

func TestProcessMetricFailureIsNotSurfaced(t *testing.T) {
	ex := &stubExtractor{result: extraction.Result{}}
	rec := &memRecorder{err: errors.New("disk full")}
	if _, err := newTestPipeline(ex, rec).Process(context.Background(), Request{Text: "t", TemplateKey: "brief"}); err != nil {
		t.Fatalf("metric write failures must not fail the request: %v", err)
	}
}
