package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/ratelimit"
	"github.com/foxzi/mailforge/internal/upload"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "data", "mailforge.db")
	cfg.Uploads.Dir = filepath.Join(dir, "uploads")
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	cfg.Logging.Level = "error"
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	defer metrics.SetGlobal(nil)

	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if a.apiServer == nil {
		t.Error("api server not created")
	}
	if a.metricsServer == nil || a.collector == nil {
		t.Error("metrics not created although enabled")
	}
	if metrics.Global() == nil {
		t.Error("global metrics not set")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// The database is released on shutdown
	db, err := OpenDB(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("OpenDB() after shutdown error = %v", err)
	}
	db.Close()
}

func TestNewWithRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		PerUser: &config.LimitValues{SendsPerHour: 5},
	}

	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.limiter == nil {
		t.Fatal("rate limiter not created although enabled")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewRateLimitConfig(t *testing.T) {
	got := NewRateLimitConfig(config.RateLimitConfig{
		Global:        &config.LimitValues{SendsPerDay: 1000},
		PerRecipient:  &config.LimitValues{SendsPerHour: 3, SendsPerDay: 10},
		FlushInterval: time.Minute,
	})

	want := &ratelimit.Config{
		Global:        &ratelimit.LimitConfig{SendsPerDay: 1000},
		Recipient:     &ratelimit.LimitConfig{SendsPerHour: 3, SendsPerDay: 10},
		FlushInterval: time.Minute,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewRateLimitConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewWithoutMetrics(t *testing.T) {
	a, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.metricsServer != nil || a.collector != nil {
		t.Error("metrics created although disabled")
	}
}

func TestNewInvalidDKIMKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.DKIM = config.DKIMConfig{
		Enabled:  true,
		Selector: "mail",
		Domain:   "example.com",
		KeyFile:  filepath.Join(t.TempDir(), "missing.pem"),
	}

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("New() expected error for missing DKIM key")
	}

	// A failed New must not keep the database locked
	db, err := OpenDB(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	db.Close()
}

func TestNewInvalidTLSCertificate(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.TLS = config.TLSConfig{
		CertFile: filepath.Join(t.TempDir(), "missing.pem"),
		KeyFile:  filepath.Join(t.TempDir(), "missing.key"),
	}

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("New() expected error for missing TLS certificate")
	}
}

func TestNewUploadStore(t *testing.T) {
	local, err := NewUploadStore(context.Background(), config.UploadsConfig{
		Backend: "local",
		Dir:     t.TempDir(),
		BaseURL: "/uploads/",
	})
	if err != nil {
		t.Fatalf("NewUploadStore(local) error = %v", err)
	}
	if _, ok := local.(*upload.LocalStore); !ok {
		t.Errorf("local backend type = %T", local)
	}

	s3, err := NewUploadStore(context.Background(), config.UploadsConfig{
		Backend: "s3",
		S3: config.S3Config{
			Bucket:      "images",
			Region:      "us-east-1",
			AccessKeyID: "test",
			SecretKey:   "test",
			Endpoint:    "http://127.0.0.1:9000",
		},
	})
	if err != nil {
		t.Fatalf("NewUploadStore(s3) error = %v", err)
	}
	if got := s3.URL("a.png"); got != "http://127.0.0.1:9000/images/a.png" {
		t.Errorf("s3 URL = %q", got)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		for _, format := range []string{"json", "text"} {
			logger := SetupLogger(config.LoggingConfig{Level: tt.level, Format: format})
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.want) {
				t.Errorf("%s/%s: level %v disabled", tt.level, format, tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(ctx, tt.want-4) {
				t.Errorf("%s/%s: level below %v enabled", tt.level, format, tt.want)
			}
		}
	}
}
