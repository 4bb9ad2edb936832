// Package stt adapts speech-to-text engines behind a single Recognizer
// contract. Recognizers take a complete audio upload; there is no streaming
// path.
package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Segment is a timed span of recognized speech. Start and End are seconds.
type Segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript captures recognizer output. Duration is the audio length in
// seconds.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Model    string    `json:"-"`
}

// AvgConfidence is the mean segment confidence, 0 when there are no segments.
func (t Transcript) AvgConfidence() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range t.Segments {
		sum += s.Confidence
	}
	return sum / float64(len(t.Segments))
}

// WordCount counts whitespace separated words in Text.
func (t Transcript) WordCount() int {
	return len(strings.Fields(t.Text))
}

// JoinSegments joins segment texts with a single space and trims the result.
func JoinSegments(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (Transcript, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockRecognizer(cfg), nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
