// Package metrics keeps the append-only usage logs for transcriptions,
// template fills and correction reports, and derives windowed summaries
// from them.
package metrics

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

const (
	transcriptionsFile = "transcriptions.jsonl"
	templateUsageFile  = "template_usage.jsonl"
	correctionsFile    = "corrections.jsonl"

	maxRecordSize = 1 << 20
)

// ErrRecordTooLarge is returned when an encoded record exceeds the size a
// log line may have.
var ErrRecordTooLarge = errors.New("metric record too large")

// appendLog is one newline-delimited JSON file. Appends hold mu for the
// duration of a single Write of a complete line.
type appendLog struct {
	mu   sync.Mutex
	path string
}

func (l *appendLog) append(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if len(data) > maxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(l.path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", filepath.Base(l.path), err)
	}
	return f.Close()
}

// scan calls fn for every non-empty line. A missing file is an empty log.
// Lines longer than maxRecordSize are discarded up to their newline and
// counted in the returned total instead of failing the scan.
func (l *appendLog) scan(fn func(line []byte)) (int, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	var (
		line     []byte
		tooLong  bool
		oversize int
	)
	for {
		chunk, err := reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxRecordSize+1 {
				tooLong = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			oversize++
		} else if rec := bytes.TrimRight(line, "\r\n"); len(rec) > 0 {
			fn(rec)
		}
		line = line[:0]
		tooLong = false

		if errors.Is(err, io.EOF) {
			return oversize, nil
		}
		if err != nil {
			return oversize, err
		}
	}
}

// Tracker owns the metric logs. All methods are safe for concurrent use.
type Tracker struct {
	cfg    config.MetricsConfig
	logger *slog.Logger
	sinks  []Sink
	clock  func() time.Time

	transcriptions *appendLog
	templates      *appendLog
	corrections    *appendLog
}

// NewTracker creates the metrics directory if needed. Sinks receive every
// record after it has been appended.
func NewTracker(cfg config.MetricsConfig, logger *slog.Logger, sinks ...Sink) (*Tracker, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	return &Tracker{
		cfg:            cfg,
		logger:         logger.With(slog.String("component", "metrics")),
		sinks:          sinks,
		clock:          time.Now,
		transcriptions: &appendLog{path: filepath.Join(cfg.Dir, transcriptionsFile)},
		templates:      &appendLog{path: filepath.Join(cfg.Dir, templateUsageFile)},
		corrections:    &appendLog{path: filepath.Join(cfg.Dir, correctionsFile)},
	}, nil
}

// AddSink registers a sink. It must be called before the tracker is shared.
func (t *Tracker) AddSink(s Sink) {
	t.sinks = append(t.sinks, s)
}

func (t *Tracker) stamp(id *string, ts *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if ts.IsZero() {
		*ts = t.clock().UTC()
	}
}

// RecordTranscription appends m, filling in a missing id or timestamp.
func (t *Tracker) RecordTranscription(ctx context.Context, m TranscriptionMetric) (TranscriptionMetric, error) {
	t.stamp(&m.ID, &m.Timestamp)
	if err := t.transcriptions.append(m); err != nil {
		return m, err
	}
	t.fanOut(ctx, Event{Kind: KindTranscription, Transcription: &m})
	return m, nil
}

// RecordTemplateUsage appends m, filling in a missing id or timestamp.
func (t *Tracker) RecordTemplateUsage(ctx context.Context, m TemplateMetric) (TemplateMetric, error) {
	t.stamp(&m.ID, &m.Timestamp)
	if m.LowConfidenceCount > m.FieldCount {
		m.LowConfidenceCount = m.FieldCount
	}
	if err := t.templates.append(m); err != nil {
		return m, err
	}
	t.fanOut(ctx, Event{Kind: KindTemplate, Template: &m})
	return m, nil
}

// RecordCorrection appends c, filling in a missing id or timestamp.
func (t *Tracker) RecordCorrection(ctx context.Context, c CorrectionEvent) (CorrectionEvent, error) {
	t.stamp(&c.ID, &c.Timestamp)
	if err := t.corrections.append(c); err != nil {
		return c, err
	}
	t.fanOut(ctx, Event{Kind: KindCorrection, Correction: &c})
	return c, nil
}

func (t *Tracker) fanOut(ctx context.Context, ev Event) {
	for _, s := range t.sinks {
		if err := s.Record(ctx, ev); err != nil {
			t.logger.Warn("metric sink failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("id", ev.ID()),
				slog.String("error", err.Error()))
		}
	}
}

func (t *Tracker) logFor(kind Kind) *appendLog {
	switch kind {
	case KindTranscription:
		return t.transcriptions
	case KindTemplate:
		return t.templates
	default:
		return t.corrections
	}
}
