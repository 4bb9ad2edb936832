// Package notes turns dictated text plus a template into a filled note.
package notes

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/extraction"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

// Extractor fills a template body from raw text.
type Extractor interface {
	Extract(ctx context.Context, rawText, templateBody string) (extraction.Result, error)
}

// UsageRecorder persists one metric per processed note.
type UsageRecorder interface {
	RecordTemplateUsage(ctx context.Context, m metrics.TemplateMetric) (metrics.TemplateMetric, error)
}

// Request names the template by key or carries ad-hoc template text, never both.
type Request struct {
	Text           string
	TemplateKey    string
	CustomTemplate string
}

type Metadata struct {
	ProcessingTime      float64                `json:"processing_time"`
	TemplateKey         string                 `json:"template_key"`
	TemplateSource      metrics.TemplateSource `json:"template_source"`
	FieldCount          int                    `json:"field_count"`
	AvgConfidence       float64                `json:"avg_confidence"`
	LowConfidenceFields []string               `json:"low_confidence_fields"`
	LowConfidenceCount  int                    `json:"low_confidence_count"`
	FallbackUsed        bool                   `json:"fallback_used"`
}

// Note is the filled result. ID matches the recorded template metric.
type Note struct {
	ID       string            `json:"note_id"`
	Fields   extraction.Result `json:"fields"`
	Metadata Metadata          `json:"metadata"`
}

type Pipeline struct {
	store     *templates.Store
	extractor Extractor
	recorder  UsageRecorder
	threshold float64
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewPipeline wires a pipeline. Fields with confidence below lowConfidence
// are reported as low confidence.
func NewPipeline(store *templates.Store, extractor Extractor, recorder UsageRecorder, lowConfidence float64, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		extractor: extractor,
		recorder:  recorder,
		threshold: lowConfidence,
		logger:    logger.With(slog.String("component", "notes")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-scribe/notes"),
	}
}

// Process fills the requested template from req.Text. Unparseable model
// output degrades to regex extraction; an unavailable backend is returned as
// an error and records no metric.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Note, error) {
	ctx, span := p.tracer.Start(ctx, "notes.process")
	defer span.End()
	start := time.Now()

	tpl, source, err := p.resolve(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("template.key", tpl.Key),
		attribute.String("template.source", string(source)),
	)

	fallbackUsed := false
	result, err := p.extractor.Extract(ctx, req.Text, tpl.Body)
	if err != nil {
		var parseErr *extraction.ParseError
		if !errors.As(err, &parseErr) {
			p.logger.Error("extraction failed",
				slog.String("template_key", tpl.Key),
				slog.String("error", err.Error()))
			span.RecordError(err)
			span.SetStatus(codes.Error, "extraction failed")
			return nil, err
		}
		p.logger.Warn("extraction response unusable, using fallback",
			slog.String("template_key", tpl.Key),
			slog.String("error", err.Error()))
		result = extraction.Fallback(req.Text, tpl.Body)
		fallbackUsed = true
	}

	placeholders := templates.Placeholders(tpl.Body)
	result = extraction.Complete(result, placeholders)
	meta := p.score(result, placeholders)
	meta.TemplateKey = tpl.Key
	meta.TemplateSource = source
	meta.FallbackUsed = fallbackUsed
	meta.ProcessingTime = time.Since(start).Seconds()

	if len(meta.LowConfidenceFields) > 0 {
		p.logger.Warn("low confidence fields",
			slog.String("template_key", tpl.Key),
			slog.String("fields", strings.Join(meta.LowConfidenceFields, ", ")))
	}

	note := &Note{ID: uuid.NewString(), Fields: result, Metadata: meta}
	_, err = p.recorder.RecordTemplateUsage(ctx, metrics.TemplateMetric{
		ID:                 note.ID,
		TemplateKey:        tpl.Key,
		TemplateSource:     source,
		ProcessingTime:     meta.ProcessingTime,
		FieldCount:         meta.FieldCount,
		LowConfidenceCount: meta.LowConfidenceCount,
		AvgConfidence:      meta.AvgConfidence,
		FallbackUsed:       fallbackUsed,
	})
	if err != nil {
		p.logger.Error("failed to record template usage",
			slog.String("note_id", note.ID),
			slog.String("error", err.Error()))
	}

	span.SetAttributes(
		attribute.Bool("note.fallback", fallbackUsed),
		attribute.Float64("note.avg_confidence", meta.AvgConfidence),
	)
	p.logger.Info("note processed",
		slog.String("note_id", note.ID),
		slog.String("template_key", tpl.Key),
		slog.Int("fields", meta.FieldCount),
		slog.Float64("avg_confidence", meta.AvgConfidence),
		slog.Bool("fallback", fallbackUsed),
		slog.Duration("latency", time.Since(start)))
	return note, nil
}

func (p *Pipeline) resolve(req Request) (templates.Template, metrics.TemplateSource, error) {
	if strings.TrimSpace(req.Text) == "" {
		return templates.Template{}, "", apperr.InvalidRequest("missing 'text'")
	}
	hasKey := req.TemplateKey != ""
	hasCustom := strings.TrimSpace(req.CustomTemplate) != ""
	switch {
	case hasKey && hasCustom:
		return templates.Template{}, "", apperr.InvalidRequest("provide either 'template_key' or 'custom_template', not both")
	case hasKey:
		tpl, err := p.store.Get(req.TemplateKey)
		if err != nil {
			return templates.Template{}, "", err
		}
		return tpl, metrics.SourceStatic, nil
	case hasCustom:
		return templates.NewDynamic(req.CustomTemplate), metrics.SourceDynamic, nil
	default:
		return templates.Template{}, "", apperr.InvalidRequest("missing 'template_key' or 'custom_template'")
	}
}

// score computes mean confidence and the low confidence fields in
// placeholder order.
func (p *Pipeline) score(result extraction.Result, placeholders []string) Metadata {
	meta := Metadata{FieldCount: len(placeholders), LowConfidenceFields: []string{}}
	if len(placeholders) == 0 {
		return meta
	}
	var sum float64
	for _, name := range placeholders {
		f := result[name]
		sum += f.Confidence
		if f.Confidence < p.threshold {
			meta.LowConfidenceFields = append(meta.LowConfidenceFields, name)
		}
	}
	meta.AvgConfidence = sum / float64(len(placeholders))
	meta.LowConfidenceCount = len(meta.LowConfidenceFields)
	return meta
}
