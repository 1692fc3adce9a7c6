package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/mailforge/internal/email"
	"github.com/foxzi/mailforge/internal/mailer"
	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/ratelimit"
	"github.com/foxzi/mailforge/internal/template"
)

// SendTestRequest is the request for POST /api/v1/send-test. Either
// template_id names a saved template or the template fields are inline.
type SendTestRequest struct {
	TemplateRequest
	TemplateID string   `json:"template_id,omitempty"`
	To         []string `json:"to"`
}

// SendTestResponse is the response for POST /api/v1/send-test
type SendTestResponse struct {
	Status string `json:"status"`
	*mailer.Result
}

// handleSendTest handles POST /api/v1/send-test
func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Mailer.Enabled() {
		s.sendError(w, http.StatusServiceUnavailable, "Test sending is not configured")
		return
	}

	var req SendTestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var m template.Model
	if req.TemplateID != "" {
		if s.opts.Templates == nil {
			s.sendError(w, http.StatusBadRequest, "Saved templates are not available")
			return
		}
		rec, err := s.opts.Templates.Get(r.Context(), ownerFromContext(r.Context()), req.TemplateID)
		if err != nil {
			if errors.Is(err, template.ErrNotFound) {
				s.sendError(w, http.StatusNotFound, "Template not found")
				return
			}
			s.logger.Error("failed to get template", "id", req.TemplateID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to get template")
			return
		}
		if m, err = rec.Model(); err != nil {
			s.logger.Error("stored template is invalid", "id", rec.ID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Stored template is invalid")
			return
		}
	} else {
		var err error
		if m, err = template.Normalize(req.input()); err != nil {
			s.sendValidationError(w, err)
			return
		}
	}

	recipients, err := email.ParseRecipients(req.To)
	if err != nil {
		metrics.IncTestSends("failed")
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.allowSend(w, r, recipients) {
		return
	}

	res, err := s.opts.Mailer.Send(r.Context(), recipients, m)
	if err != nil {
		metrics.IncTestSends("failed")
		switch {
		case errors.Is(err, email.ErrNoRecipients),
			errors.Is(err, email.ErrInvalidAddress),
			errors.Is(err, email.ErrTooManyRecipients):
			s.sendError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, mailer.ErrNotConfigured):
			s.sendError(w, http.StatusServiceUnavailable, "Test sending is not configured")
		case errors.Is(err, mailer.ErrDelivery):
			s.sendError(w, http.StatusBadGateway, "SMTP relay rejected the message")
		default:
			s.logger.Error("test send failed", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to send test message")
		}
		return
	}

	metrics.IncTestSends("ok")
	s.sendJSON(w, http.StatusOK, SendTestResponse{Status: "sent", Result: res})
}

// SendQuotaResponse is the response for GET /api/v1/send-test/quota
type SendQuotaResponse struct {
	Enabled    bool               `json:"enabled"`
	Allowed    bool               `json:"allowed"`
	DeniedBy   ratelimit.Level    `json:"denied_by,omitempty"`
	RetryAfter int                `json:"retry_after,omitempty"` // seconds
	Usage      []*ratelimit.Stats `json:"usage"`
}

// handleSendQuota handles GET /api/v1/send-test/quota. Optional "to"
// parameters are checked as the recipients of a send. Nothing is charged.
func (s *Server) handleSendQuota(w http.ResponseWriter, r *http.Request) {
	if s.opts.Limiter == nil {
		s.sendJSON(w, http.StatusOK, SendQuotaResponse{Allowed: true, Usage: []*ratelimit.Stats{}})
		return
	}

	var recipients []string
	if to := r.URL.Query()["to"]; len(to) > 0 {
		var err error
		if recipients, err = email.ParseRecipients(to); err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	req := s.quotaRequest(r, recipients)
	res, err := s.opts.Limiter.Check(r.Context(), req)
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to check send quota")
		return
	}

	resp := SendQuotaResponse{
		Enabled: true,
		Allowed: res.Allowed,
		Usage:   []*ratelimit.Stats{},
	}
	if !res.Allowed {
		resp.DeniedBy = res.DeniedBy
		resp.RetryAfter = retrySeconds(res.RetryAfter)
	}

	scopes := []struct {
		level ratelimit.Level
		key   string
	}{
		{ratelimit.LevelGlobal, "global"},
		{ratelimit.LevelUser, req.User},
		{ratelimit.LevelIP, req.IP},
	}
	for _, scope := range scopes {
		if scope.key == "" {
			continue
		}
		stats, err := s.opts.Limiter.GetStats(r.Context(), scope.level, scope.key)
		if err != nil {
			s.logger.Error("failed to read quota usage", "level", scope.level, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to read send quota")
			return
		}
		resp.Usage = append(resp.Usage, stats)
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// quotaRequest describes a send by the caller of r.
func (s *Server) quotaRequest(r *http.Request, recipients []string) *ratelimit.Request {
	req := &ratelimit.Request{
		User:       ownerFromContext(r.Context()),
		Recipients: recipients,
	}
	if addr, ok := s.filter.ClientAddr(r); ok {
		req.IP = addr.String()
	}
	return req
}

// allowSend charges the send quota and writes 429 when it is exhausted.
func (s *Server) allowSend(w http.ResponseWriter, r *http.Request, recipients []string) bool {
	if s.opts.Limiter == nil {
		return true
	}

	req := s.quotaRequest(r, recipients)
	res, err := s.opts.Limiter.Allow(r.Context(), req)
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to check send quota")
		return false
	}
	if res.Allowed {
		return true
	}

	s.logger.Warn("test send rate limited",
		"user", req.User,
		"denied_by", res.DeniedBy,
		"retry_after", res.RetryAfter,
	)
	metrics.IncTestSends("rate_limited")
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(res.RetryAfter)))
	s.sendError(w, http.StatusTooManyRequests, "Test send quota exceeded ("+string(res.DeniedBy)+")")
	return false
}

// retrySeconds rounds d up to whole seconds.
func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
