package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is given; a missing file at this
// path is not an error.
const DefaultPath = "scribe.yaml"

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	TraceStdout    bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	MaxUploadMB    int    `yaml:"max_upload_mb"`
	RequestTimeout int    `yaml:"request_timeout_ms"`
}

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Templates   TemplatesConfig   `yaml:"templates"`
	STT         STTConfig         `yaml:"stt"`
	LLM         LLMConfig         `yaml:"llm"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TemplatesConfig struct {
	Path string `yaml:"path"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	ModelName  string `yaml:"model_name"`
	Language   string `yaml:"language"`
	BeamSize   int    `yaml:"beam_size"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"`     // mock, ollama, exec, google, anthropic
	Endpoint    string  `yaml:"endpoint"` // base URL; empty selects the backend default
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`    // empty selects the backend default
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type ExtractionConfig struct {
	TimeoutMS              int     `yaml:"timeout_ms"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

type MetricsConfig struct {
	Dir                    string  `yaml:"dir"`
	ProblemConfidenceBelow float64 `yaml:"problem_confidence_below"`
	ProblemCorrectionsOver float64 `yaml:"problem_corrections_over"`
	DefaultWindowDays      int     `yaml:"default_window_days"`
}

type MaintenanceConfig struct {
	PruneSchedule string `yaml:"prune_schedule"`
}

// Timeout returns the per-call extraction deadline.
func (c ExtractionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Timeout returns the per-call transcription deadline.
func (c STTConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func Default() Config {
	return Config{
		ServiceName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           5005,
			MaxUploadMB:    100,
			RequestTimeout: 120000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/scribe-events.db",
			RetentionMode: "persistent",
			RetentionDays: 90,
		},
		Templates: TemplatesConfig{
			Path: "./config/macros.json",
		},
		STT: STTConfig{
			Mode:       "mock",
			ModelName:  "medium.en",
			BeamSize:   5,
			SampleRate: 16000,
			Channels:   1,
			TimeoutMS:  300000,
		},
		LLM: LLMConfig{
			Enabled:     false,
			Mode:        "mock",
			MaxTokens:   2048,
			Temperature: 0.1,
		},
		Extraction: ExtractionConfig{
			TimeoutMS:              60000,
			LowConfidenceThreshold: 0.7,
		},
		Metrics: MetricsConfig{
			Dir:                    "./data/metrics",
			ProblemConfidenceBelow: 0.6,
			ProblemCorrectionsOver: 2,
			DefaultWindowDays:      7,
		},
		Maintenance: MaintenanceConfig{
			PruneSchedule: "0 3 * * *",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies SCRIBE_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err) && path == DefaultPath:
			// running on defaults + env
		case os.IsNotExist(err):
			return cfg, fmt.Errorf("config file not found: %w", err)
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "SCRIBE_SERVICE_NAME")
	overrideString(&cfg.Environment, "SCRIBE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadMB, "SCRIBE_HTTP_MAX_UPLOAD_MB")
	overrideInt(&cfg.HTTP.RequestTimeout, "SCRIBE_HTTP_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.TraceStdout, "SCRIBE_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "SCRIBE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SCRIBE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SCRIBE_EVENT_STORE_RETENTION_DAYS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SCRIBE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Templates.Path, "SCRIBE_TEMPLATES_PATH")
	overrideString(&cfg.STT.Mode, "SCRIBE_STT_MODE")
	overrideString(&cfg.STT.Command, "SCRIBE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "SCRIBE_STT_MODEL_PATH")
	overrideString(&cfg.STT.ModelName, "SCRIBE_STT_MODEL_NAME")
	overrideString(&cfg.STT.Language, "SCRIBE_STT_LANGUAGE")
	overrideInt(&cfg.STT.BeamSize, "SCRIBE_STT_BEAM_SIZE")
	overrideInt(&cfg.STT.SampleRate, "SCRIBE_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "SCRIBE_STT_CHANNELS")
	overrideInt(&cfg.STT.TimeoutMS, "SCRIBE_STT_TIMEOUT_MS")
	overrideBool(&cfg.LLM.Enabled, "SCRIBE_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "SCRIBE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "SCRIBE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "SCRIBE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "SCRIBE_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "SCRIBE_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "SCRIBE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "SCRIBE_LLM_TEMPERATURE")
	overrideInt(&cfg.Extraction.TimeoutMS, "SCRIBE_EXTRACTION_TIMEOUT_MS")
	overrideFloat(&cfg.Extraction.LowConfidenceThreshold, "SCRIBE_EXTRACTION_LOW_CONFIDENCE_THRESHOLD")
	overrideString(&cfg.Metrics.Dir, "SCRIBE_METRICS_DIR")
	overrideFloat(&cfg.Metrics.ProblemConfidenceBelow, "SCRIBE_METRICS_PROBLEM_CONFIDENCE_BELOW")
	overrideFloat(&cfg.Metrics.ProblemCorrectionsOver, "SCRIBE_METRICS_PROBLEM_CORRECTIONS_OVER")
	overrideInt(&cfg.Metrics.DefaultWindowDays, "SCRIBE_METRICS_DEFAULT_WINDOW_DAYS")
	overrideStringAllowEmpty(&cfg.Maintenance.PruneSchedule, "SCRIBE_MAINTENANCE_PRUNE_SCHEDULE")

	// Hosted providers conventionally read their key from these.
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Mode {
		case "google":
			overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
			overrideString(&cfg.LLM.APIKey, "GOOGLE_API_KEY")
		case "anthropic":
			overrideString(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
		}
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideStringAllowEmpty(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionMode == "persistent" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.SampleRate <= 0 || cfg.STT.Channels <= 0 {
		return errors.New("stt.sample_rate and stt.channels must be positive")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec", "google", "anthropic":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec|google|anthropic")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if (cfg.LLM.Mode == "google" || cfg.LLM.Mode == "anthropic") && cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key must be set when mode=%s", cfg.LLM.Mode)
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.Extraction.TimeoutMS <= 0 {
		return errors.New("extraction.timeout_ms must be positive")
	}
	if t := cfg.Extraction.LowConfidenceThreshold; t < 0 || t > 1 {
		return errors.New("extraction.low_confidence_threshold must be within [0,1]")
	}
	if cfg.Metrics.Dir == "" {
		return errors.New("metrics.dir must not be empty")
	}
	if cfg.Metrics.DefaultWindowDays <= 0 {
		return errors.New("metrics.default_window_days must be positive")
	}
	return nil
}
