package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type mockRecognizer struct {
	cfg config.STTConfig
}

func NewMockRecognizer(cfg config.STTConfig) Recognizer {
	return &mockRecognizer{cfg: cfg}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, data []byte) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if len(data) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	duration := probeDuration(data, m.cfg.SampleRate, m.cfg.Channels)
	seg := Segment{
		Text:       fmt.Sprintf("[%s transcript length=%d]", container(data), len(data)),
		Start:      0,
		End:        duration,
		Confidence: 1,
	}
	language := m.cfg.Language
	if language == "" {
		language = "en"
	}
	return Transcript{
		Text:     JoinSegments([]Segment{seg}),
		Segments: []Segment{seg},
		Language: language,
		Duration: duration,
		Model:    "mock",
	}, nil
}
