package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 5005 {
		t.Fatalf("expected default port 5005, got %d", cfg.HTTP.Port)
	}
	if cfg.Extraction.LowConfidenceThreshold != 0.7 {
		t.Fatalf("expected low confidence threshold 0.7, got %v", cfg.Extraction.LowConfidenceThreshold)
	}
	if cfg.Metrics.ProblemConfidenceBelow != 0.6 || cfg.Metrics.ProblemCorrectionsOver != 2 {
		t.Fatalf("unexpected problem thresholds: %+v", cfg.Metrics)
	}
	if cfg.Extraction.Timeout() != 60*time.Second {
		t.Fatalf("expected 60s extraction timeout, got %s", cfg.Extraction.Timeout())
	}
}

func TestLoadMissingDefaultPathTolerated(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if _, err := Load(DefaultPath); err != nil {
		t.Fatalf("expected missing default config to be tolerated, got %v", err)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	data := []byte(`
service_name: scribe-test
templates:
  path: /etc/scribe/macros.yaml
llm:
  enabled: true
  mode: ollama
  endpoint: http://ollama:11434
  model: llama3.2:latest
extraction:
  low_confidence_threshold: 0.65
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceName != "scribe-test" {
		t.Fatalf("expected service name override, got %q", cfg.ServiceName)
	}
	if cfg.Templates.Path != "/etc/scribe/macros.yaml" {
		t.Fatalf("unexpected templates path %q", cfg.Templates.Path)
	}
	if !cfg.LLM.Enabled || cfg.LLM.Mode != "ollama" || cfg.LLM.Model != "llama3.2:latest" {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.Extraction.LowConfidenceThreshold != 0.65 {
		t.Fatalf("expected threshold 0.65, got %v", cfg.Extraction.LowConfidenceThreshold)
	}
	// untouched sections keep defaults
	if cfg.STT.BeamSize != 5 {
		t.Fatalf("expected default beam size, got %d", cfg.STT.BeamSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_HTTP_PORT", "6006")
	t.Setenv("SCRIBE_BUS_ENABLED", "true")
	t.Setenv("SCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SCRIBE_STT_MODE", "exec")
	t.Setenv("SCRIBE_STT_COMMAND", "whisper-cli --json")
	t.Setenv("SCRIBE_LLM_ENABLED", "true")
	t.Setenv("SCRIBE_LLM_MODE", "google")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("SCRIBE_METRICS_DIR", "/var/lib/scribe")
	t.Setenv("SCRIBE_MAINTENANCE_PRUNE_SCHEDULE", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 6006 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("unexpected stt command %q", cfg.STT.Command)
	}
	if cfg.LLM.APIKey != "g-key" {
		t.Fatalf("expected provider key from GOOGLE_API_KEY, got %q", cfg.LLM.APIKey)
	}
	if cfg.Metrics.Dir != "/var/lib/scribe" {
		t.Fatalf("unexpected metrics dir %q", cfg.Metrics.Dir)
	}
	if cfg.Maintenance.PruneSchedule != "" {
		t.Fatalf("expected prune schedule to be disabled, got %q", cfg.Maintenance.PruneSchedule)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":          func(c *Config) { c.HTTP.Port = 0 },
		"exec stt no cmd":   func(c *Config) { c.STT.Mode = "exec" },
		"unknown llm mode":  func(c *Config) { c.LLM.Enabled = true; c.LLM.Mode = "gpt" },
		"google no key":     func(c *Config) { c.LLM.Enabled = true; c.LLM.Mode = "google" },
		"threshold range":   func(c *Config) { c.Extraction.LowConfidenceThreshold = 1.5 },
		"retention mode":    func(c *Config) { c.EventStore.RetentionMode = "session" },
		"empty metrics dir": func(c *Config) { c.Metrics.Dir = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
