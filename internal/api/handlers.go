package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/template"
)

// previewCSP isolates a previewed document the way an iframe sandbox does.
const previewCSP = "sandbox; default-src 'none'; img-src * data:; style-src 'unsafe-inline'"

// TemplateRequest carries raw template fields. Omitted text fields decode to
// nil and are treated as empty.
type TemplateRequest struct {
	Title  *string  `json:"title"`
	Body   *string  `json:"body"`
	Footer *string  `json:"footer"`
	Images []string `json:"images"`
	Format string   `json:"format,omitempty"`
}

func (req *TemplateRequest) input() template.Input {
	return template.Input{
		Title:  req.Title,
		Body:   req.Body,
		Footer: req.Footer,
		Images: req.Images,
		Format: req.Format,
	}
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// LayoutResponse is the response for GET /api/v1/layout
type LayoutResponse struct {
	HTML       string `json:"html"`
	Stylesheet string `json:"stylesheet"`
}

// PreviewResponse is the response for POST /api/v1/preview?format=json
type PreviewResponse struct {
	HTML string `json:"html"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationErrorResponse reports the rejected field. Index is -1 unless the
// field is a list.
type ValidationErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field"`
	Index int    `json:"index"`
}

// handleHealth handles GET /health and GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleLayout handles GET /api/v1/layout
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	html := template.Layout()
	metrics.ObserveRender(string(template.FormatText), metrics.SiteLayout, time.Since(start))

	s.sendJSON(w, http.StatusOK, LayoutResponse{
		HTML:       html,
		Stylesheet: template.Stylesheet(),
	})
}

// handlePreview handles POST /api/v1/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	m, ok := s.decodeModel(w, r)
	if !ok {
		return
	}

	html := renderObserved(m, metrics.SitePreview)

	if r.URL.Query().Get("format") == "json" {
		s.sendJSON(w, http.StatusOK, PreviewResponse{HTML: html})
		return
	}

	w.Header().Set("Content-Type", template.MIMEType)
	w.Header().Set("Content-Security-Policy", previewCSP)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

// handleExport handles POST /api/v1/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	m, ok := s.decodeModel(w, r)
	if !ok {
		return
	}

	s.writeDownload(w, exportObserved(m), "api")
}

// decodeModel reads a TemplateRequest and normalizes it. On failure the
// response has already been written.
func (s *Server) decodeModel(w http.ResponseWriter, r *http.Request) (template.Model, bool) {
	var req TemplateRequest
	if !s.decodeJSON(w, r, &req) {
		return template.Model{}, false
	}

	m, err := template.Normalize(req.input())
	if err != nil {
		s.sendValidationError(w, err)
		return template.Model{}, false
	}
	return m, true
}

// decodeJSON decodes a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeDownload writes an exported document as an attachment.
func (s *Server) writeDownload(w http.ResponseWriter, d template.Download, source string) {
	metrics.IncExports(source)

	w.Header().Set("Content-Type", d.MIMEType)
	w.Header().Set("Content-Disposition", d.ContentDisposition())
	w.Header().Set("Content-Length", d.ContentLength())
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(d.Bytes)
}

func renderObserved(m template.Model, site string) string {
	start := time.Now()
	html := template.Render(m)
	metrics.ObserveRender(string(m.Format()), site, time.Since(start))
	return html
}

func exportObserved(m template.Model) template.Download {
	start := time.Now()
	d := template.Export(m)
	metrics.ObserveRender(string(m.Format()), metrics.SiteExport, time.Since(start))
	return d
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendValidationError reports a rejected template. Errors that are not
// validation errors become a 500.
func (s *Server) sendValidationError(w http.ResponseWriter, err error) {
	var verr *template.ValidationError
	if !errors.As(err, &verr) {
		s.logger.Error("unexpected template error", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to build template")
		return
	}

	metrics.IncValidationFailures(verr.Field)
	s.sendJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error: verr.Error(),
		Field: verr.Field,
		Index: verr.Index,
	})
}
