package protocol

import "time"

// NoteRequest asks the gateway to fill a template from dictated text. Exactly
// one of TemplateKey and CustomTemplate is set.
type NoteRequest struct {
	Text           string `json:"text"`
	TemplateKey    string `json:"template_key,omitempty"`
	MacroKey       string `json:"macro_key,omitempty"`
	CustomTemplate string `json:"custom_template,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Key returns the template key, accepting the macro_key alias.
func (r NoteRequest) Key() string {
	if r.TemplateKey != "" {
		return r.TemplateKey
	}
	return r.MacroKey
}

// Failure is the reply for a request that could not be served.
type Failure struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// MetricEvent is published for every durably recorded metric.
type MetricEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Record    any       `json:"record"`
}

const (
	SubjectNoteProcess          = "scribe.note.process"
	SubjectMetricsPrefix        = "scribe.metrics"
	SubjectMetricsTranscription = SubjectMetricsPrefix + ".transcription"
	SubjectMetricsTemplate      = SubjectMetricsPrefix + ".template"
	SubjectMetricsCorrection    = SubjectMetricsPrefix + ".correction"
)

// MetricsSubject returns the subject a metric kind is published on.
func MetricsSubject(kind string) string {
	return SubjectMetricsPrefix + "." + kind
}
