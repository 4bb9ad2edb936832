package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/loqalabs/loqa-scribe/internal/api"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/extraction"
	"github.com/loqalabs/loqa-scribe/internal/gateway"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/notes"
	"github.com/loqalabs/loqa-scribe/internal/router"
	"github.com/loqalabs/loqa-scribe/internal/selector"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	promServer  *http.Server
	tracerClose func(context.Context) error
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	events      *eventstore.Store
	router      *router.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is done, then shuts down in
// reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	defer r.close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	sched, err := parseSchedule(r.cfg.Maintenance.PruneSchedule)
	if err != nil {
		return err
	}

	var sinks []metrics.Sink
	otelSink, err := metrics.NewOTelSink(otel.Meter("loqa-scribe/metrics"))
	if err != nil {
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}
	sinks = append(sinks, otelSink)

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
		sinks = append(sinks, bus.NewMetricsPublisher(r.bus))
	}

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	if err := r.events.Ensure(); err != nil {
		return fmt.Errorf("event store misconfigured: %w", err)
	}
	sinks = append(sinks, r.events)

	tracker, err := metrics.NewTracker(r.cfg.Metrics, r.logger, sinks...)
	if err != nil {
		return fmt.Errorf("failed to open metrics logs: %w", err)
	}

	store := templates.LoadOrEmpty(r.cfg.Templates.Path, r.logger)

	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to initialize transcription backend: %w", err)
	}

	generator, err := llm.New(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize generation backend: %w", err)
	}
	if !r.cfg.LLM.Enabled {
		r.logger.Warn("text generation disabled; note filling and template selection will fail")
	}

	timeout := r.cfg.Extraction.Timeout()
	extractor := extraction.NewClient(generator, r.cfg.LLM, timeout, r.logger)
	pipeline := notes.NewPipeline(store, extractor, tracker, r.cfg.Extraction.LowConfidenceThreshold, r.logger)
	sel := selector.New(store, generator, r.cfg.LLM, timeout, r.logger)

	gw := gateway.New(gateway.Options{
		Recognizer:        recognizer,
		Notes:             pipeline,
		Selector:          sel,
		Templates:         store,
		Metrics:           tracker,
		TranscribeTimeout: r.cfg.STT.Timeout(),
		DefaultWindowDays: r.cfg.Metrics.DefaultWindowDays,
		Info:              r.info(),
		Logger:            r.logger,
	})

	requestTimeout := time.Duration(r.cfg.HTTP.RequestTimeout) * time.Millisecond
	if r.bus != nil {
		r.router = router.NewService(ctx, r.bus, gw, requestTimeout, r.logger)
		if err := r.router.Start(); err != nil {
			return fmt.Errorf("failed to start bus router: %w", err)
		}
	}

	server := api.NewServer(api.Options{
		Gateway:        gw,
		MaxUploadMB:    r.cfg.HTTP.MaxUploadMB,
		RequestTimeout: requestTimeout,
		Ready:          r.isReady,
		Metrics:        metricsHandler,
		Logger:         r.logger,
	})
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.promServer = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.promServer, "prometheus")
	}

	if sched != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			runMaintenance(ctx, sched, r.events, r.logger.With(slog.String("component", "maintenance")), time.Now)
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Int("templates", store.Len()),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.Bool("llm_enabled", r.cfg.LLM.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.nats = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.ServiceName, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// close releases everything Start created, newest first.
func (r *Runtime) close() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.promServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.router != nil {
		r.router.Close()
	}
	r.wg.Wait()

	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) info() gateway.Info {
	model := r.cfg.STT.ModelName
	if r.cfg.STT.ModelPath != "" {
		model = filepath.Base(r.cfg.STT.ModelPath)
	}
	if r.cfg.STT.Mode == "mock" {
		model = "mock"
	}
	return gateway.Info{
		STTBackend: r.cfg.STT.Mode,
		STTModel:   model,
		LLMEnabled: r.cfg.LLM.Enabled,
		LLMBackend: r.cfg.LLM.Mode,
	}
}
