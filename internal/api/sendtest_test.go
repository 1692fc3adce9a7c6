package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/mailer"
	"github.com/foxzi/mailforge/internal/mailer/mailertest"
	"github.com/foxzi/mailforge/internal/ratelimit"
)

func newSendServer(t *testing.T) (*Server, *mailertest.Sink) {
	t.Helper()
	sink := mailertest.Start(t, "", "")
	m := mailer.New(sink.Config("Mailforge <noreply@example.com>"), "mail.example.com", nil, testLogger())
	return newTestServer(t, nil, Options{Mailer: m}), sink
}

func TestSendTest(t *testing.T) {
	s, sink := newSendServer(t)

	req := SendTestRequest{
		TemplateRequest: sampleRequest(),
		To:              []string{"qa@example.com", "QA@example.com", "dev@example.com"},
	}
	rec := doRequest(t, s.Handler(), "POST", "/api/v1/send-test", req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp SendTestResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "sent" {
		t.Errorf("status = %q, want sent", resp.Status)
	}
	if !strings.HasSuffix(resp.MessageID, "@example.com>") {
		t.Errorf("message_id = %q", resp.MessageID)
	}

	msgs := sink.Messages()
	if len(msgs) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(msgs))
	}
	if diff := cmp.Diff([]string{"qa@example.com", "dev@example.com"}, msgs[0].To); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
	if msgs[0].From != "noreply@example.com" {
		t.Errorf("MAIL FROM = %q", msgs[0].From)
	}
}

func TestSendTestSavedTemplate(t *testing.T) {
	s, sink := newSendServer(t)

	created := createTemplate(t, s, TemplateCreateRequest{TemplateRequest: sampleRequest()})

	rec := doRequest(t, s.Handler(), "POST", "/api/v1/send-test", SendTestRequest{
		TemplateID: created.ID,
		To:         []string{"qa@example.com"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if n := len(sink.Messages()); n != 1 {
		t.Errorf("sink received %d messages, want 1", n)
	}

	rec = doRequest(t, s.Handler(), "POST", "/api/v1/send-test", SendTestRequest{
		TemplateID: "missing",
		To:         []string{"qa@example.com"},
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing template status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSendTestErrors(t *testing.T) {
	s, sink := newSendServer(t)
	sink.Reject("blocked@example.com")

	tests := []struct {
		name       string
		req        SendTestRequest
		wantStatus int
	}{
		{
			name:       "no recipients",
			req:        SendTestRequest{TemplateRequest: sampleRequest()},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid recipient",
			req:        SendTestRequest{TemplateRequest: sampleRequest(), To: []string{"not an address"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid template",
			req:        SendTestRequest{TemplateRequest: TemplateRequest{Title: strPtr("")}, To: []string{"qa@example.com"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "relay rejects recipient",
			req:        SendTestRequest{TemplateRequest: sampleRequest(), To: []string{"blocked@example.com"}},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s.Handler(), "POST", "/api/v1/send-test", tt.req, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	if n := len(sink.Messages()); n != 0 {
		t.Errorf("sink received %d messages, want 0", n)
	}
}

func TestSendTestNotConfigured(t *testing.T) {
	m := mailer.New(config.SMTPConfig{}, "mail.example.com", nil, testLogger())
	s := newTestServer(t, nil, Options{Mailer: m})

	rec := doRequest(t, s.Handler(), "POST", "/api/v1/send-test", SendTestRequest{
		TemplateRequest: sampleRequest(),
		To:              []string{"qa@example.com"},
	}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

type fakeLimiter struct {
	deny   bool
	reqs   []*ratelimit.Request
	checks []*ratelimit.Request
}

func (f *fakeLimiter) result() *ratelimit.Result {
	if f.deny {
		return &ratelimit.Result{DeniedBy: ratelimit.LevelUser, RetryAfter: 90500 * time.Millisecond}
	}
	return &ratelimit.Result{Allowed: true}
}

func (f *fakeLimiter) Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.result(), nil
}

func (f *fakeLimiter) Check(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	f.checks = append(f.checks, req)
	return f.result(), nil
}

func (f *fakeLimiter) GetStats(ctx context.Context, level ratelimit.Level, key string) (*ratelimit.Stats, error) {
	return &ratelimit.Stats{Level: level, Key: key, HourlyCount: 2, DailyCount: 7}, nil
}

func TestSendTestRateLimit(t *testing.T) {
	sink := mailertest.Start(t, "", "")
	m := mailer.New(sink.Config("noreply@example.com"), "mail.example.com", nil, testLogger())
	limiter := &fakeLimiter{}
	s := newTestServer(t, nil, Options{Mailer: m, Limiter: limiter})

	send := func() *httptest.ResponseRecorder {
		return doRequest(t, s.Handler(), "POST", "/api/v1/send-test", SendTestRequest{
			TemplateRequest: sampleRequest(),
			To:              []string{"Dev <DEV@example.com>", "qa@example.com"},
		}, nil)
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(limiter.reqs) != 1 {
		t.Fatalf("limiter called %d times, want 1", len(limiter.reqs))
	}
	got := limiter.reqs[0]
	if got.User != "default" {
		t.Errorf("limiter user = %q, want default", got.User)
	}
	if got.IP != "192.0.2.1" {
		t.Errorf("limiter ip = %q, want 192.0.2.1", got.IP)
	}
	if diff := cmp.Diff([]string{"DEV@example.com", "qa@example.com"}, got.Recipients); diff != "" {
		t.Errorf("limiter recipients mismatch (-want +got):\n%s", diff)
	}

	limiter.deny = true
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("denied status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "91" {
		t.Errorf("Retry-After = %q, want 91", got)
	}
	if n := len(sink.Messages()); n != 1 {
		t.Errorf("sink received %d messages, want 1", n)
	}
}

func TestSendQuota(t *testing.T) {
	sink := mailertest.Start(t, "", "")
	m := mailer.New(sink.Config("noreply@example.com"), "mail.example.com", nil, testLogger())
	limiter := &fakeLimiter{}
	s := newTestServer(t, nil, Options{Mailer: m, Limiter: limiter})

	rec := doRequest(t, s.Handler(), "GET", "/api/v1/send-test/quota?to=qa@example.com&to=dev@example.com", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp SendQuotaResponse
	decodeBody(t, rec, &resp)
	if !resp.Enabled || !resp.Allowed {
		t.Errorf("enabled/allowed = %v/%v, want true/true", resp.Enabled, resp.Allowed)
	}

	var scopes []string
	for _, u := range resp.Usage {
		scopes = append(scopes, string(u.Level)+":"+u.Key)
	}
	if diff := cmp.Diff([]string{"global:global", "user:default", "ip:192.0.2.1"}, scopes); diff != "" {
		t.Errorf("usage scopes mismatch (-want +got):\n%s", diff)
	}

	if len(limiter.checks) != 1 || len(limiter.reqs) != 0 {
		t.Fatalf("Check/Allow calls = %d/%d, want 1/0", len(limiter.checks), len(limiter.reqs))
	}
	if diff := cmp.Diff([]string{"qa@example.com", "dev@example.com"}, limiter.checks[0].Recipients); diff != "" {
		t.Errorf("checked recipients mismatch (-want +got):\n%s", diff)
	}

	limiter.deny = true
	decodeBody(t, doRequest(t, s.Handler(), "GET", "/api/v1/send-test/quota", nil, nil), &resp)
	if resp.Allowed || resp.DeniedBy != ratelimit.LevelUser || resp.RetryAfter != 91 {
		t.Errorf("denied quota = %+v", resp)
	}

	if rec := doRequest(t, s.Handler(), "GET", "/api/v1/send-test/quota?to=not-an-address", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid recipient status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if n := len(sink.Messages()); n != 0 {
		t.Errorf("sink received %d messages, want 0", n)
	}
}

func TestSendQuotaDisabled(t *testing.T) {
	s, _ := newSendServer(t)

	rec := doRequest(t, s.Handler(), "GET", "/api/v1/send-test/quota", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp SendQuotaResponse
	decodeBody(t, rec, &resp)
	if resp.Enabled || !resp.Allowed || len(resp.Usage) != 0 {
		t.Errorf("quota without limiter = %+v", resp)
	}
}
