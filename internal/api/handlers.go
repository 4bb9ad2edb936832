package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/gateway"
	"github.com/loqalabs/loqa-scribe/internal/notes"
)

const multipartMemory = 32 << 20

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gw.Health())
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || s.ready() {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

// parseUploads reads every file under field from a size-limited multipart body.
func (s *Server) parseUploads(w http.ResponseWriter, r *http.Request, field string) ([]gateway.Upload, error) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.InvalidRequest("upload exceeds %d MB", s.maxUpload>>20)
		}
		return nil, apperr.InvalidRequest("expected a multipart upload")
	}
	headers := r.MultipartForm.File[field]
	uploads := make([]gateway.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, apperr.InvalidRequest("could not read '%s'", fh.Filename)
		}
		uploads = append(uploads, gateway.Upload{Filename: fh.Filename, Data: data})
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.parseUploads(w, r, "file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(uploads) == 0 || uploads[0].Filename == "" {
		s.writeError(w, r, apperr.InvalidRequest("no audio file provided"))
		return
	}
	res, err := s.gw.TranscribeAudio(r.Context(), uploads[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) transcribeBatch(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.parseUploads(w, r, "files")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.gw.TranscribeBatch(r.Context(), uploads)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

type textRequest struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) selectTemplate(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sel, err := s.gw.SelectTemplate(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sel)
}

type generateRequest struct {
	Text          string `json:"text" validate:"required"`
	ProcedureType string `json:"procedure_type"`
}

func (s *Server) generateTemplate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	gen, err := s.gw.GenerateDynamicTemplate(r.Context(), req.Text, req.ProcedureType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gen)
}

type processRequest struct {
	Text           string `json:"text" validate:"required"`
	TemplateKey    string `json:"template_key"`
	MacroKey       string `json:"macro_key"`
	CustomTemplate string `json:"custom_template"`
}

func (s *Server) processNote(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := req.TemplateKey
	if key == "" {
		key = req.MacroKey
	}
	note, err := s.gw.ProcessNote(r.Context(), notes.Request{
		Text:           req.Text,
		TemplateKey:    key,
		CustomTemplate: req.CustomTemplate,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, note)
}

type correctionRequest struct {
	NoteID      string   `json:"note_id" validate:"required"`
	TemplateKey string   `json:"template_key"`
	Corrections int      `json:"corrections" validate:"gte=0"`
	Fields      []string `json:"fields"`
}

func (s *Server) reportCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.gw.ReportCorrection(r.Context(), gateway.CorrectionReport{
		NoteID:      req.NoteID,
		TemplateKey: req.TemplateKey,
		Corrections: req.Corrections,
		Fields:      req.Fields,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "recorded", "correction": ev})
}

func (s *Server) metricsSummary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperr.InvalidRequest("'days' must be a positive integer"))
			return
		}
		days = n
	}
	sum, err := s.gw.MetricsSummary(days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) listTemplates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gw.ListTemplates())
}

// listMacros keeps the older response shape for existing clients.
func (s *Server) listMacros(w http.ResponseWriter, _ *http.Request) {
	list := s.gw.ListTemplates()
	s.writeJSON(w, http.StatusOK, map[string]any{"macros": list.Templates, "count": list.Count})
}

func (s *Server) validateTemplate(w http.ResponseWriter, r *http.Request) {
	v, err := s.gw.ValidateTemplate(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}
