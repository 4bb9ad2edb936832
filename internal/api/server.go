// Package api is the HTTP shell over the gateway operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/gateway"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/notes"
	"github.com/loqalabs/loqa-scribe/internal/selector"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

// Gateway is the set of operations served over HTTP.
type Gateway interface {
	TranscribeAudio(ctx context.Context, up gateway.Upload) (*gateway.Transcription, error)
	TranscribeBatch(ctx context.Context, uploads []gateway.Upload) (*gateway.Batch, error)
	SelectTemplate(ctx context.Context, text string) (selector.Selection, error)
	GenerateDynamicTemplate(ctx context.Context, text, procedureType string) (*gateway.GeneratedTemplate, error)
	ProcessNote(ctx context.Context, req notes.Request) (*notes.Note, error)
	ReportCorrection(ctx context.Context, rep gateway.CorrectionReport) (metrics.CorrectionEvent, error)
	MetricsSummary(days int) (metrics.Summary, error)
	ListTemplates() gateway.TemplateList
	ValidateTemplate(key string) (templates.Validation, error)
	Health() gateway.Health
}

type Options struct {
	Gateway        Gateway
	MaxUploadMB    int
	RequestTimeout time.Duration
	// Ready reports readiness for /readyz; nil means always ready.
	Ready func() bool
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	router    *chi.Mux
	gw        Gateway
	maxUpload int64
	ready     func() bool
	logger    *slog.Logger
}

func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	s := &Server{
		router:    router,
		gw:        opts.Gateway,
		maxUpload: int64(opts.MaxUploadMB) << 20,
		ready:     opts.Ready,
		logger:    opts.Logger.With(slog.String("component", "api")),
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/", s.health)
	router.Get("/healthz", s.health)
	router.Get("/readyz", s.readiness)
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// Transcription is bounded by the recognizer timeout instead.
	router.Post("/transcribe", s.transcribe)
	router.Post("/transcribe/batch", s.transcribeBatch)

	router.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		r.Post("/select_template", s.selectTemplate)
		r.Post("/generate_template", s.generateTemplate)
		r.Post("/process_note", s.processNote)
		r.Post("/report_correction", s.reportCorrection)
		r.Get("/metrics/summary", s.metricsSummary)
		r.Get("/list_templates", s.listTemplates)
		r.Get("/list_macros", s.listMacros)
		r.Get("/validate_template/{key}", s.validateTemplate)
		r.Get("/validate_macro/{key}", s.validateTemplate)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, apperr.NotFound("no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error": "method not allowed",
			"kind":  string(apperr.KindInvalidRequest),
		})
	})

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

type errorBody struct {
	Error   string         `json:"error"`
	Kind    apperr.Kind    `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps err onto its status. Internal detail stays in the log; a
// request whose client already went away gets no response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if gateway.IsClientGone(r.Context(), err) {
		s.logger.Debug("client disconnected, discarding result", slog.String("path", r.URL.Path))
		return
	}
	kind := apperr.KindOf(err)
	body := errorBody{Error: apperr.Message(err), Kind: kind}
	var ae *apperr.Error
	if kind == apperr.KindInvalidRequest && errors.As(err, &ae) {
		body.Details = ae.Details
	}
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError || kind == apperr.KindTranscriptionFailure {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, body)
}

// maxJSONBody caps request bodies on the JSON endpoints.
const maxJSONBody = 1 << 20

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.InvalidRequest("request body exceeds %d bytes", maxJSONBody)
		}
		return apperr.InvalidRequest("invalid JSON body")
	}
	return validateBody(v)
}
