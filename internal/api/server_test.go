package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/extraction"
	"github.com/loqalabs/loqa-scribe/internal/gateway"
	"github.com/loqalabs/loqa-scribe/internal/llm"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/notes"
	"github.com/loqalabs/loqa-scribe/internal/selector"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/templates"
)

// newTestServer wires the gateway over mock backends.
func newTestServer(t *testing.T, llmEnabled bool) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Metrics.Dir = filepath.Join(t.TempDir(), "metrics")
	cfg.LLM.Enabled = llmEnabled

	tracker, err := metrics.NewTracker(cfg.Metrics, logger)
	if err != nil {
		t.Fatal(err)
	}
	gen, err := llm.New(cfg.LLM)
	if err != nil {
		t.Fatal(err)
	}
	store := templates.New(
		templates.Template{Key: "colonoscopy", Body: "Indication: {indication}\nFindings: {findings}"},
		templates.Template{Key: "soap", Body: "S: {subjective}\nP: {plan}"},
	)
	extractor := extraction.NewClient(gen, cfg.LLM, time.Second, logger)
	gw := gateway.New(gateway.Options{
		Recognizer:        stt.NewMockRecognizer(cfg.STT),
		Notes:             notes.NewPipeline(store, extractor, tracker, cfg.Extraction.LowConfidenceThreshold, logger),
		Selector:          selector.New(store, gen, cfg.LLM, time.Second, logger),
		Templates:         store,
		Metrics:           tracker,
		TranscribeTimeout: time.Second,
		Info:              gateway.Info{STTBackend: "mock", STTModel: "mock", LLMEnabled: llmEnabled, LLMBackend: "mock"},
		Logger:            logger,
	})
	return NewServer(Options{
		Gateway:     gw,
		MaxUploadMB: 1,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Logger: logger,
	})
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func postJSON(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return serve(s, req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func multipartBody(t *testing.T, field string, files map[string][]byte, order ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(files[name])
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, false)
	for _, path := range []string{"/", "/healthz"} {
		w := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var body gateway.Health
		decode(t, w, &body)
		if body.Status != "healthy" || body.TemplatesLoaded != 2 || body.LLMEnabled {
			t.Fatalf("%s: unexpected health %+v", path, body)
		}
	}
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", w.Code)
	}
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Fatalf("expected metrics handler, got %d", w.Code)
	}
}

func TestTranscribeUpload(t *testing.T) {
	srv := newTestServer(t, false)
	body, ctype := multipartBody(t, "file", map[string][]byte{"visit.wav": make([]byte, 32000)}, "visit.wav")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ctype)
	w := serve(srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var res gateway.Transcription
	decode(t, w, &res)
	if res.ID == "" || res.Text == "" || res.Duration != 1 || res.Filename != "visit.wav" {
		t.Fatalf("unexpected transcription %+v", res)
	}
}

func TestTranscribeWithoutFile(t *testing.T) {
	srv := newTestServer(t, false)
	body, ctype := multipartBody(t, "file", nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ctype)
	w := serve(srv, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var eb errorBody
	decode(t, w, &eb)
	if eb.Error != "no audio file provided" || eb.Kind != "invalid_request" {
		t.Fatalf("unexpected error body %+v", eb)
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	srv := newTestServer(t, false)
	body, ctype := multipartBody(t, "file", map[string][]byte{"big.wav": make([]byte, 2<<20)}, "big.wav")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ctype)
	if w := serve(srv, req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized upload, got %d", w.Code)
	}
}

func TestTranscribeBatch(t *testing.T) {
	srv := newTestServer(t, false)
	files := map[string][]byte{"a.wav": make([]byte, 3200), "b.wav": {}, "c.wav": make([]byte, 3200)}
	body, ctype := multipartBody(t, "files", files, "a.wav", "b.wav", "c.wav")
	req := httptest.NewRequest(http.MethodPost, "/transcribe/batch", body)
	req.Header.Set("Content-Type", ctype)
	w := serve(srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var batch gateway.Batch
	decode(t, w, &batch)
	if batch.Total != 3 || batch.Successful != 2 || batch.Failed != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if batch.Results[1].Status != "error" || batch.Results[1].Error == "" {
		t.Fatalf("empty file should fail on its own entry, got %+v", batch.Results[1])
	}
}

func TestProcessNoteWithMacroAlias(t *testing.T) {
	srv := newTestServer(t, true)
	w := postJSON(srv, "/process_note", `{"text":"Indication: screening. Findings: two polyps","macro_key":"colonoscopy"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var note notes.Note
	decode(t, w, &note)
	if note.ID == "" || note.Metadata.TemplateKey != "colonoscopy" || note.Metadata.FieldCount != 2 {
		t.Fatalf("unexpected note %+v", note)
	}
	for _, k := range []string{"indication", "findings"} {
		if _, ok := note.Fields[k]; !ok {
			t.Fatalf("missing field %s in %+v", k, note.Fields)
		}
	}

	w = postJSON(srv, "/report_correction", `{"note_id":"`+note.ID+`","fields":["findings"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected correction to be recorded, got %d: %s", w.Code, w.Body)
	}
	var summary metrics.Summary
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/metrics/summary?days=1", nil))
	decode(t, w, &summary)
	if summary.WindowDays != 1 || summary.Templates.Count != 1 || summary.Corrections.Total != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestProcessNoteErrors(t *testing.T) {
	srv := newTestServer(t, false)
	cases := []struct {
		name, body string
		status     int
		kind       string
	}{
		{"bad json", `{"text":`, http.StatusBadRequest, "invalid_request"},
		{"missing text", `{"template_key":"soap"}`, http.StatusBadRequest, "invalid_request"},
		{"both sources", `{"text":"x","template_key":"soap","custom_template":"Dx: {dx}"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown key", `{"text":"x","template_key":"nope"}`, http.StatusNotFound, "not_found"},
		{"llm disabled", `{"text":"x","template_key":"soap"}`, http.StatusServiceUnavailable, "extraction_service_error"},
	}
	for _, tc := range cases {
		w := postJSON(srv, "/process_note", tc.body)
		if w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, w.Code, w.Body)
			continue
		}
		var eb errorBody
		decode(t, w, &eb)
		if string(eb.Kind) != tc.kind || eb.Error == "" {
			t.Errorf("%s: unexpected error body %+v", tc.name, eb)
		}
	}
}

func TestValidationDetails(t *testing.T) {
	srv := newTestServer(t, false)
	w := postJSON(srv, "/report_correction", `{"corrections":-1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var eb errorBody
	decode(t, w, &eb)
	fields, ok := eb.Details["fields"].([]any)
	if !ok || len(fields) != 2 {
		t.Fatalf("expected two field errors, got %+v", eb.Details)
	}
	if !strings.Contains(eb.Error, "'note_id' is required") || !strings.Contains(eb.Error, "'corrections' must be >= 0") {
		t.Fatalf("unexpected message %q", eb.Error)
	}
}

func TestJSONBodyLimit(t *testing.T) {
	srv := newTestServer(t, false)
	body := `{"note_id":"n","template_key":"brief","fields":["` + strings.Repeat("x", maxJSONBody) + `"]}`
	w := postJSON(srv, "/report_correction", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an oversized body, got %d", w.Code)
	}
	var eb errorBody
	decode(t, w, &eb)
	if !strings.Contains(eb.Error, "exceeds") {
		t.Fatalf("unexpected message %q", eb.Error)
	}

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/metrics/summary?days=7", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("summary after rejected body: %d %s", w.Code, w.Body.String())
	}
}

func TestSelectTemplateUnparseableOutput(t *testing.T) {
	srv := newTestServer(t, true)
	w := postJSON(srv, "/select_template", `{"text":"cecum reached"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for unparseable selection, got %d: %s", w.Code, w.Body)
	}
	var eb errorBody
	decode(t, w, &eb)
	if eb.Kind != "generation_service_error" {
		t.Fatalf("unexpected kind %s", eb.Kind)
	}
}

func TestTemplateListingAndValidation(t *testing.T) {
	srv := newTestServer(t, false)

	var list gateway.TemplateList
	decode(t, serve(srv, httptest.NewRequest(http.MethodGet, "/list_templates", nil)), &list)
	if list.Count != 2 || list.Templates[0] != "colonoscopy" {
		t.Fatalf("unexpected list %+v", list)
	}
	var macros struct {
		Macros []string `json:"macros"`
		Count  int      `json:"count"`
	}
	decode(t, serve(srv, httptest.NewRequest(http.MethodGet, "/list_macros", nil)), &macros)
	if macros.Count != 2 || len(macros.Macros) != 2 {
		t.Fatalf("unexpected macros %+v", macros)
	}

	for _, path := range []string{"/validate_template/soap", "/validate_macro/soap"} {
		w := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var v templates.Validation
		decode(t, w, &v)
		if v.FieldCount != 2 || v.Fields[0] != "subjective" || v.TemplateLength == 0 {
			t.Fatalf("%s: unexpected validation %+v", path, v)
		}
	}
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/validate_template/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMetricsSummaryRejectsBadDays(t *testing.T) {
	srv := newTestServer(t, false)
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics/summary?days=abc", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))
	var summary metrics.Summary
	decode(t, w, &summary)
	if summary.WindowDays != 7 || summary.Transcriptions.Count != 0 {
		t.Fatalf("unexpected default summary %+v", summary)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(t, false)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
