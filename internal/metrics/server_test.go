package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxzi/mailforge/internal/config"
)

func TestNewServerDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(New(), config.MetricsConfig{}, logger)

	if s.addr != ":9090" {
		t.Errorf("addr = %q, want :9090", s.addr)
	}
	if s.path != "/metrics" {
		t.Errorf("path = %q, want /metrics", s.path)
	}
	if s.filter.Enabled() {
		t.Error("IP filter should be disabled without allowed_ips")
	}
}

func TestServerHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.ExportsTotal.WithLabelValues("api").Inc()

	s := NewServer(m, config.MetricsConfig{
		Path:       "/custom-metrics",
		AllowedIPs: []string{"192.168.1.0/24", "::1"},
	}, logger)
	handler := s.Handler()

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		wantStatus int
		wantBody   string
	}{
		{"allowed scrape", "/custom-metrics", "192.168.1.10:4000", http.StatusOK, "mailforge_exports_total"},
		{"allowed IPv6 scrape", "/custom-metrics", "[::1]:4000", http.StatusOK, "mailforge_exports_total"},
		{"denied scrape", "/custom-metrics", "10.0.0.1:4000", http.StatusForbidden, "Forbidden"},
		{"health is open", "/health", "10.0.0.1:4000", http.StatusOK, "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}
