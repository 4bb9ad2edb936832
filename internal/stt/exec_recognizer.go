package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// execRecognizer hands the upload to an external engine (for example a
// whisper CLI wrapper) as a temp file and reads a JSON transcript from stdout.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
}

type execResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Model    string    `json:"model"`
	Segments []Segment `json:"segments"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("stt command %q: %w", args[0], err)
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, data []byte) (Transcript, error) {
	if len(data) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	path, err := r.writeTemp(data)
	if err != nil {
		return Transcript{}, err
	}
	defer os.Remove(path)

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", path)
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	} else if r.cfg.ModelName != "" {
		args = append(args, "--model", r.cfg.ModelName)
	}
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}
	if r.cfg.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(r.cfg.BeamSize))
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return Transcript{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcript{}, fmt.Errorf("decode stt response: %w", err)
	}

	t := Transcript{
		Text:     resp.Text,
		Segments: resp.Segments,
		Language: resp.Language,
		Duration: resp.Duration,
		Model:    resp.Model,
	}
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	if len(t.Segments) > 0 {
		t.Text = JoinSegments(t.Segments)
	}
	if t.Duration == 0 {
		t.Duration = probeDuration(data, r.cfg.SampleRate, r.cfg.Channels)
	}
	if t.Language == "" {
		t.Language = r.cfg.Language
	}
	if t.Model == "" {
		t.Model = r.cfg.ModelName
	}
	return t, nil
}

// writeTemp stores the upload where the engine can read it. Raw PCM is
// wrapped in a WAV header using the configured format.
func (r *execRecognizer) writeTemp(data []byte) (string, error) {
	kind := container(data)
	ext := kind
	if kind == "pcm" {
		ext = "wav"
	}
	file, err := os.CreateTemp("", "scribe_stt_*."+ext)
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer file.Close()

	if kind == "pcm" {
		err = writePCMToWav(file, data, r.cfg.SampleRate, r.cfg.Channels)
	} else {
		_, err = file.Write(data)
	}
	if err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
