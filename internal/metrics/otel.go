package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink mirrors recorded metrics into OpenTelemetry instruments so they
// show up on the Prometheus scrape endpoint.
type OTelSink struct {
	transcriptions  metric.Int64Counter
	audioSeconds    metric.Float64Counter
	transcribeTime  metric.Float64Histogram
	notes           metric.Int64Counter
	noteTime        metric.Float64Histogram
	noteConfidence  metric.Float64Histogram
	lowConfidence   metric.Int64Counter
	corrections     metric.Int64Counter
	correctionCount metric.Int64Counter
}

func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	var s OTelSink
	var err error
	if s.transcriptions, err = meter.Int64Counter("scribe.transcriptions",
		metric.WithDescription("Transcribed uploads")); err != nil {
		return nil, err
	}
	if s.audioSeconds, err = meter.Float64Counter("scribe.transcription.audio",
		metric.WithDescription("Transcribed audio length"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if s.transcribeTime, err = meter.Float64Histogram("scribe.transcription.duration",
		metric.WithDescription("Transcription processing time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if s.notes, err = meter.Int64Counter("scribe.notes",
		metric.WithDescription("Processed notes")); err != nil {
		return nil, err
	}
	if s.noteTime, err = meter.Float64Histogram("scribe.note.duration",
		metric.WithDescription("Note processing time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if s.noteConfidence, err = meter.Float64Histogram("scribe.note.confidence",
		metric.WithDescription("Mean field confidence per note")); err != nil {
		return nil, err
	}
	if s.lowConfidence, err = meter.Int64Counter("scribe.note.low_confidence_fields",
		metric.WithDescription("Fields filled below the confidence threshold")); err != nil {
		return nil, err
	}
	if s.corrections, err = meter.Int64Counter("scribe.corrections",
		metric.WithDescription("Correction reports")); err != nil {
		return nil, err
	}
	if s.correctionCount, err = meter.Int64Counter("scribe.corrections.fields",
		metric.WithDescription("Corrected fields across reports")); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *OTelSink) Record(ctx context.Context, ev Event) error {
	switch {
	case ev.Transcription != nil:
		m := ev.Transcription
		attrs := metric.WithAttributes(attribute.String("model", m.ModelUsed))
		s.transcriptions.Add(ctx, 1, attrs)
		s.audioSeconds.Add(ctx, m.AudioDuration, attrs)
		s.transcribeTime.Record(ctx, m.ProcessingTime, attrs)
	case ev.Template != nil:
		m := ev.Template
		attrs := metric.WithAttributes(
			attribute.String("template_source", string(m.TemplateSource)),
			attribute.String("fallback", strconv.FormatBool(m.FallbackUsed)),
		)
		s.notes.Add(ctx, 1, attrs)
		s.noteTime.Record(ctx, m.ProcessingTime, attrs)
		s.noteConfidence.Record(ctx, m.AvgConfidence, attrs)
		s.lowConfidence.Add(ctx, int64(m.LowConfidenceCount), attrs)
	case ev.Correction != nil:
		s.corrections.Add(ctx, 1)
		s.correctionCount.Add(ctx, int64(ev.Correction.Corrections))
	}
	return nil
}
