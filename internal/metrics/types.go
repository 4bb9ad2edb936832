package metrics

import (
	"context"
	"time"
)

// TemplateSource distinguishes stored templates from per-request ones.
type TemplateSource string

const (
	SourceStatic  TemplateSource = "static"
	SourceDynamic TemplateSource = "dynamic"
)

// TranscriptionMetric is recorded once per transcribed upload. Durations are
// seconds.
type TranscriptionMetric struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	AudioDuration  float64   `json:"audio_duration"`
	ProcessingTime float64   `json:"processing_time"`
	WordCount      int       `json:"word_count"`
	ConfidenceAvg  float64   `json:"confidence_avg"`
	ModelUsed      string    `json:"model_used"`
}

// TemplateMetric is recorded once per note fill. ID doubles as the note id.
type TemplateMetric struct {
	ID                 string         `json:"id"`
	Timestamp          time.Time      `json:"timestamp"`
	TemplateKey        string         `json:"template_key"`
	TemplateSource     TemplateSource `json:"template_source"`
	ProcessingTime     float64        `json:"processing_time"`
	FieldCount         int            `json:"field_count"`
	LowConfidenceCount int            `json:"low_confidence_count"`
	AvgConfidence      float64        `json:"avg_confidence"`
	UserCorrections    int            `json:"user_corrections"`
	FallbackUsed       bool           `json:"fallback_used"`
}

// CorrectionEvent reports user edits to a previously filled note. It never
// rewrites the TemplateMetric it refers to.
type CorrectionEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	NoteID      string    `json:"note_id"`
	TemplateKey string    `json:"template_key"`
	Corrections int       `json:"corrections"`
	Fields      []string  `json:"fields,omitempty"`
}

// Kind names a metric log.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindTemplate      Kind = "template"
	KindCorrection    Kind = "correction"
)

// Event carries one recorded metric to sinks. Exactly one payload is set.
type Event struct {
	Kind          Kind
	Transcription *TranscriptionMetric
	Template      *TemplateMetric
	Correction    *CorrectionEvent
}

// ID returns the id of the carried record.
func (e Event) ID() string {
	switch {
	case e.Transcription != nil:
		return e.Transcription.ID
	case e.Template != nil:
		return e.Template.ID
	case e.Correction != nil:
		return e.Correction.ID
	}
	return ""
}

// Timestamp returns the timestamp of the carried record.
func (e Event) Timestamp() time.Time {
	switch {
	case e.Transcription != nil:
		return e.Transcription.Timestamp
	case e.Template != nil:
		return e.Template.Timestamp
	case e.Correction != nil:
		return e.Correction.Timestamp
	}
	return time.Time{}
}

// Payload returns the carried record.
func (e Event) Payload() any {
	switch {
	case e.Transcription != nil:
		return e.Transcription
	case e.Template != nil:
		return e.Template
	case e.Correction != nil:
		return e.Correction
	}
	return nil
}

// Sink receives every record after it has been durably appended.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// TranscriptionStats aggregates transcription records in a window.
type TranscriptionStats struct {
	Count              int     `json:"count"`
	AvgProcessingTime  float64 `json:"avg_processing_time"`
	AvgConfidence      float64 `json:"avg_confidence"`
	TotalAudioDuration float64 `json:"total_audio_duration"`
}

// TemplateUsageStats aggregates template records in a window.
type TemplateUsageStats struct {
	Count             int     `json:"count"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
	AvgConfidence     float64 `json:"avg_confidence"`
	DynamicCount      int     `json:"dynamic_count"`
	FallbackCount     int     `json:"fallback_count"`
}

// CorrectionStats aggregates correction events in a window.
type CorrectionStats struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// TemplateStats describes one template key within a window.
type TemplateStats struct {
	TemplateKey    string  `json:"template_key"`
	Uses           int     `json:"uses"`
	AvgConfidence  float64 `json:"avg_confidence"`
	AvgCorrections float64 `json:"avg_corrections"`
}

// Summary is the windowed aggregate over all metric logs.
type Summary struct {
	WindowDays           int                `json:"window_days"`
	Transcriptions       TranscriptionStats `json:"transcriptions"`
	Templates            TemplateUsageStats `json:"templates"`
	Corrections          CorrectionStats    `json:"corrections"`
	ProblematicTemplates []TemplateStats    `json:"problematic_templates"`
	SkippedRecords       int                `json:"skipped_records"`
}
