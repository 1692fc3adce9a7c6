package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/upload"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 64 << 10

// UploadResponse is the response for POST /api/v1/uploads
type UploadResponse struct {
	Success bool `json:"success"`
	upload.Result
}

// handleUpload handles POST /api/v1/uploads. The image is sent as the
// multipart field "image".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	svc := s.opts.Uploads
	if max := svc.MaxBytes(); max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+multipartOverhead)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.IncUploads(svc.Backend(), "rejected")
			s.sendError(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		s.sendError(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	defer file.Close()

	res, err := svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		status, message := uploadErrorStatus(err)
		if status == http.StatusInternalServerError {
			metrics.IncUploads(svc.Backend(), "error")
			s.logger.Error("failed to store upload", "filename", header.Filename, "error", err)
		} else {
			metrics.IncUploads(svc.Backend(), "rejected")
			s.logger.Warn("upload rejected", "filename", header.Filename, "error", err)
		}
		s.sendError(w, status, message)
		return
	}

	metrics.IncUploads(svc.Backend(), "ok")
	s.sendJSON(w, http.StatusOK, UploadResponse{Success: true, Result: *res})
}

// handleDeleteUpload handles DELETE /api/v1/uploads/{key}
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.opts.Uploads.Delete(r.Context(), key); err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidKey):
			s.sendError(w, http.StatusBadRequest, "Invalid image key")
		case errors.Is(err, upload.ErrNotFound):
			s.sendError(w, http.StatusNotFound, "Image not found")
		default:
			s.logger.Error("failed to delete upload", "key", key, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to delete image")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func uploadErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Image is too large"
	case errors.Is(err, upload.ErrNotImage):
		return http.StatusUnsupportedMediaType, "Only image files are allowed"
	case errors.Is(err, upload.ErrEmpty):
		return http.StatusBadRequest, "Uploaded image is empty"
	default:
		return http.StatusInternalServerError, "Failed to store image"
	}
}
