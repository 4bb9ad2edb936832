// Package gateway exposes the dictation operations to transport shells. It
// owns no state beyond its collaborators.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/notes"
	"github.com/loqalabs/loqa-scribe/internal/selector"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

type NoteProcessor interface {
	Process(ctx context.Context, req notes.Request) (*notes.Note, error)
}

type TemplateSelector interface {
	Select(ctx context.Context, rawText string) (selector.Selection, error)
	Generate(ctx context.Context, rawText, procedureType string) (string, error)
}

// MetricsStore is the part of the metrics tracker the gateway uses.
type MetricsStore interface {
	RecordTranscription(ctx context.Context, m metrics.TranscriptionMetric) (metrics.TranscriptionMetric, error)
	RecordCorrection(ctx context.Context, c metrics.CorrectionEvent) (metrics.CorrectionEvent, error)
	FindTemplateUsage(noteID string) (metrics.TemplateMetric, bool, error)
	Summarize(windowDays int) (metrics.Summary, error)
}

// Info describes the configured backends for health reporting.
type Info struct {
	STTBackend string
	STTModel   string
	LLMEnabled bool
	LLMBackend string
}

type Options struct {
	Recognizer        stt.Recognizer
	Notes             NoteProcessor
	Selector          TemplateSelector
	Templates         *templates.Store
	Metrics           MetricsStore
	TranscribeTimeout time.Duration
	DefaultWindowDays int
	Info              Info
	Logger            *slog.Logger
}

type Service struct {
	recognizer stt.Recognizer
	notes      NoteProcessor
	selector   TemplateSelector
	templates  *templates.Store
	metrics    MetricsStore
	timeout    time.Duration
	window     int
	info       Info
	logger     *slog.Logger
}

func New(opts Options) *Service {
	window := opts.DefaultWindowDays
	if window <= 0 {
		window = 7
	}
	return &Service{
		recognizer: opts.Recognizer,
		notes:      opts.Notes,
		selector:   opts.Selector,
		templates:  opts.Templates,
		metrics:    opts.Metrics,
		timeout:    opts.TranscribeTimeout,
		window:     window,
		info:       opts.Info,
		logger:     opts.Logger.With(slog.String("component", "gateway")),
	}
}

// Upload is one received audio file.
type Upload struct {
	Filename string
	Data     []byte
}

type Transcription struct {
	ID             string        `json:"id"`
	Filename       string        `json:"filename,omitempty"`
	Text           string        `json:"text"`
	Segments       []stt.Segment `json:"segments"`
	Language       string        `json:"language"`
	Duration       float64       `json:"duration"`
	ProcessingTime float64       `json:"processing_time"`
}

// TranscribeAudio runs the recognizer over one upload and records a
// transcription metric.
func (s *Service) TranscribeAudio(ctx context.Context, up Upload) (*Transcription, error) {
	if len(up.Data) == 0 {
		return nil, apperr.InvalidRequest("no audio file provided")
	}
	start := time.Now()
	tctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.logger.Info("transcription started", slog.String("filename", up.Filename), slog.Int("bytes", len(up.Data)))
	tr, err := s.recognizer.Transcribe(tctx, up.Data)
	if err != nil {
		s.logger.Error("transcription failed",
			slog.String("filename", up.Filename),
			slog.String("error", err.Error()))
		return nil, apperr.TranscriptionFailure(err)
	}
	elapsed := time.Since(start).Seconds()

	rec, err := s.metrics.RecordTranscription(ctx, metrics.TranscriptionMetric{
		AudioDuration:  tr.Duration,
		ProcessingTime: elapsed,
		WordCount:      tr.WordCount(),
		ConfidenceAvg:  tr.AvgConfidence(),
		ModelUsed:      tr.Model,
	})
	if err != nil {
		s.logger.Error("failed to record transcription", slog.String("error", err.Error()))
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	segments := tr.Segments
	if segments == nil {
		segments = []stt.Segment{}
	}
	s.logger.Info("transcription complete",
		slog.String("id", id),
		slog.Float64("processing_time", elapsed),
		slog.Int("words", tr.WordCount()))
	return &Transcription{
		ID:             id,
		Filename:       up.Filename,
		Text:           tr.Text,
		Segments:       segments,
		Language:       tr.Language,
		Duration:       tr.Duration,
		ProcessingTime: elapsed,
	}, nil
}

type BatchItem struct {
	Filename string         `json:"filename"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Result   *Transcription `json:"result,omitempty"`
}

type Batch struct {
	BatchID    string      `json:"batch_id"`
	Results    []BatchItem `json:"results"`
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
}

// TranscribeBatch transcribes uploads in order. A failed item is reported in
// its entry and does not stop the rest.
func (s *Service) TranscribeBatch(ctx context.Context, uploads []Upload) (*Batch, error) {
	if len(uploads) == 0 {
		return nil, apperr.InvalidRequest("no audio files provided")
	}
	batch := &Batch{BatchID: uuid.NewString(), Results: make([]BatchItem, 0, len(uploads)), Total: len(uploads)}
	for _, up := range uploads {
		item := BatchItem{Filename: up.Filename}
		res, err := s.TranscribeAudio(ctx, up)
		if err != nil {
			item.Status = "error"
			item.Error = apperr.Message(err)
			batch.Failed++
		} else {
			item.Status = "success"
			item.Result = res
			batch.Successful++
		}
		batch.Results = append(batch.Results, item)
	}
	s.logger.Info("batch transcription complete",
		slog.String("batch_id", batch.BatchID),
		slog.Int("successful", batch.Successful),
		slog.Int("failed", batch.Failed))
	return batch, nil
}

func (s *Service) SelectTemplate(ctx context.Context, text string) (selector.Selection, error) {
	return s.selector.Select(ctx, text)
}

type GeneratedTemplate struct {
	TemplateKey   string   `json:"template_key"`
	Template      string   `json:"template"`
	ProcedureType string   `json:"procedure_type"`
	Fields        []string `json:"fields"`
	FieldCount    int      `json:"field_count"`
}

// GenerateDynamicTemplate drafts a single-use template. The key is not stored;
// callers pass the body back as custom_template.
func (s *Service) GenerateDynamicTemplate(ctx context.Context, text, procedureType string) (*GeneratedTemplate, error) {
	body, err := s.selector.Generate(ctx, text, procedureType)
	if err != nil {
		return nil, err
	}
	tpl := templates.NewDynamic(body)
	fields := templates.Placeholders(body)
	return &GeneratedTemplate{
		TemplateKey:   tpl.Key,
		Template:      body,
		ProcedureType: procedureType,
		Fields:        fields,
		FieldCount:    len(fields),
	}, nil
}

func (s *Service) ProcessNote(ctx context.Context, req notes.Request) (*notes.Note, error) {
	return s.notes.Process(ctx, req)
}

type CorrectionReport struct {
	NoteID      string
	TemplateKey string
	Corrections int
	Fields      []string
}

// ReportCorrection appends a correction event. The template key is resolved
// from the note's usage record when the caller omits it.
func (s *Service) ReportCorrection(ctx context.Context, rep CorrectionReport) (metrics.CorrectionEvent, error) {
	if strings.TrimSpace(rep.NoteID) == "" {
		return metrics.CorrectionEvent{}, apperr.InvalidRequest("missing 'note_id'")
	}
	if rep.Corrections < 0 {
		return metrics.CorrectionEvent{}, apperr.InvalidRequest("'corrections' must be >= 0")
	}
	if rep.Corrections == 0 {
		rep.Corrections = len(rep.Fields)
	}
	usage, ok, err := s.metrics.FindTemplateUsage(rep.NoteID)
	if err != nil {
		return metrics.CorrectionEvent{}, apperr.Wrap(apperr.KindInternal, "could not read template usage", err)
	}
	switch {
	case ok && rep.TemplateKey != "" && rep.TemplateKey != usage.TemplateKey:
		return metrics.CorrectionEvent{}, apperr.InvalidRequest("note '%s' was filled with template '%s', not '%s'",
			rep.NoteID, usage.TemplateKey, rep.TemplateKey)
	case ok:
		rep.TemplateKey = usage.TemplateKey
	case rep.TemplateKey == "":
		return metrics.CorrectionEvent{}, apperr.NotFound("note '%s' not found", rep.NoteID)
	}
	ev, err := s.metrics.RecordCorrection(ctx, metrics.CorrectionEvent{
		NoteID:      rep.NoteID,
		TemplateKey: rep.TemplateKey,
		Corrections: rep.Corrections,
		Fields:      rep.Fields,
	})
	if errors.Is(err, metrics.ErrRecordTooLarge) {
		return metrics.CorrectionEvent{}, apperr.InvalidRequest("correction report is too large")
	}
	if err != nil {
		return metrics.CorrectionEvent{}, apperr.Wrap(apperr.KindInternal, "could not record correction", err)
	}
	s.logger.Info("correction recorded",
		slog.String("note_id", ev.NoteID),
		slog.String("template_key", ev.TemplateKey),
		slog.Int("corrections", ev.Corrections))
	return ev, nil
}

// MetricsSummary summarizes the last days of metrics; days <= 0 selects the
// configured default window.
func (s *Service) MetricsSummary(days int) (metrics.Summary, error) {
	if days <= 0 {
		days = s.window
	}
	sum, err := s.metrics.Summarize(days)
	if err != nil {
		return metrics.Summary{}, apperr.Wrap(apperr.KindInternal, "could not summarize metrics", err)
	}
	return sum, nil
}

type TemplateList struct {
	Templates []string `json:"templates"`
	Count     int      `json:"count"`
}

func (s *Service) ListTemplates() TemplateList {
	keys := s.templates.Keys()
	return TemplateList{Templates: keys, Count: len(keys)}
}

func (s *Service) ValidateTemplate(key string) (templates.Validation, error) {
	return s.templates.Validate(key)
}

type Health struct {
	Status          string `json:"status"`
	STTBackend      string `json:"stt_backend"`
	STTModel        string `json:"stt_model"`
	LLMEnabled      bool   `json:"llm_enabled"`
	LLMBackend      string `json:"llm_backend,omitempty"`
	TemplatesLoaded int    `json:"templates_loaded"`
}

func (s *Service) Health() Health {
	h := Health{
		Status:          "healthy",
		STTBackend:      s.info.STTBackend,
		STTModel:        s.info.STTModel,
		LLMEnabled:      s.info.LLMEnabled,
		TemplatesLoaded: s.templates.Len(),
	}
	if h.LLMEnabled {
		h.LLMBackend = s.info.LLMBackend
	}
	return h
}

// IsClientGone reports whether err only reflects the caller going away.
func IsClientGone(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() != nil
}
