package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type countingPruner struct{ n atomic.Int32 }

func (p *countingPruner) Prune(context.Context) error {
	p.n.Add(1)
	return nil
}

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestParseSchedule(t *testing.T) {
	sched, err := parseSchedule("0 3 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	from := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	if next := sched.Next(from); !next.Equal(time.Date(2025, 5, 2, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %s", next)
	}
	if sched, err := parseSchedule("  "); err != nil || sched != nil {
		t.Fatalf("empty schedule should disable maintenance, got %v %v", sched, err)
	}
	if _, err := parseSchedule("every night"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestRunMaintenancePrunesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &countingPruner{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		runMaintenance(ctx, everySchedule(5*time.Millisecond), p, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Now)
	}()

	deadline := time.After(2 * time.Second)
	for p.n.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected at least two prunes")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance did not stop on cancel")
	}
}

func TestInfoReportsBackends(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Mode = "exec"
	cfg.STT.ModelPath = "/models/ggml-medium.en.bin"
	cfg.LLM.Enabled = true
	cfg.LLM.Mode = "anthropic"
	info := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))).info()
	if info.STTBackend != "exec" || info.STTModel != "ggml-medium.en.bin" || !info.LLMEnabled || info.LLMBackend != "anthropic" {
		t.Fatalf("unexpected info %+v", info)
	}
}
