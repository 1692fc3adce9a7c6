package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/template"
)

// TemplateCreateRequest is the request for saving a template
type TemplateCreateRequest struct {
	TemplateRequest
	Name string `json:"name,omitempty"` // defaults to the title
}

// TemplateResponse is the response for a saved template
type TemplateResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Footer    string    `json:"footer"`
	Format    string    `json:"format"`
	Images    []string  `json:"images"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TemplateListResponse is the response for listing templates
type TemplateListResponse struct {
	Templates []*TemplateResponse `json:"templates"`
	Total     int                 `json:"total"`
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	filter := template.ListFilter{
		Search: r.URL.Query().Get("search"),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	records, err := s.opts.Templates.List(r.Context(), ownerFromContext(r.Context()), filter)
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}

	response := TemplateListResponse{
		Templates: make([]*TemplateResponse, len(records)),
		Total:     len(records),
	}
	for i, rec := range records {
		// Listings omit the rendered document
		response.Templates[i] = recordToResponse(rec, false)
	}

	s.sendJSON(w, http.StatusOK, response)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateCreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	m, err := template.Normalize(req.input())
	if err != nil {
		s.sendValidationError(w, err)
		return
	}

	start := time.Now()
	rec := template.NewRecord(m)
	metrics.ObserveRender(string(m.Format()), metrics.SiteSave, time.Since(start))
	if req.Name != "" {
		rec.Name = req.Name
	}

	owner := ownerFromContext(r.Context())
	if err := s.opts.Templates.Save(r.Context(), owner, rec); err != nil {
		s.logger.Error("failed to save template", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save template")
		return
	}
	metrics.IncTemplatesSaved()

	s.logger.Info("template saved", "id", rec.ID, "owner", owner, "format", rec.Format)
	s.sendJSON(w, http.StatusCreated, recordToResponse(rec, true))
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, recordToResponse(rec, true))
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owner := ownerFromContext(r.Context())

	if err := s.opts.Templates.Delete(r.Context(), owner, id); err != nil {
		if errors.Is(err, template.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.logger.Error("failed to delete template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}

	s.logger.Info("template deleted", "id", id, "owner", owner)
	w.WriteHeader(http.StatusNoContent)
}

// handleExportTemplate handles GET /api/v1/templates/{id}/export
func (s *Server) handleExportTemplate(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}

	m, err := rec.Model()
	if err != nil {
		s.logger.Error("stored template is invalid", "id", rec.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Stored template is invalid")
		return
	}

	s.writeDownload(w, exportObserved(m), "saved")
}

func (s *Server) loadTemplate(w http.ResponseWriter, r *http.Request) (*template.Record, bool) {
	id := chi.URLParam(r, "id")

	rec, err := s.opts.Templates.Get(r.Context(), ownerFromContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, template.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Template not found")
			return nil, false
		}
		s.logger.Error("failed to get template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	return rec, true
}

func recordToResponse(rec *template.Record, withHTML bool) *TemplateResponse {
	resp := &TemplateResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		Subject:   rec.Subject,
		Title:     rec.Title,
		Body:      rec.Body,
		Footer:    rec.Footer,
		Format:    rec.Format,
		Images:    rec.Images,
		CreatedAt: rec.CreatedAt,
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	if withHTML {
		resp.HTML = rec.HTML
	}
	return resp
}
