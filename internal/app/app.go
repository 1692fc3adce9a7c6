package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailforge/internal/api"
	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/dkim"
	"github.com/foxzi/mailforge/internal/mailer"
	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/ratelimit"
	"github.com/foxzi/mailforge/internal/template"
	mailforgeTLS "github.com/foxzi/mailforge/internal/tls"
	"github.com/foxzi/mailforge/internal/upload"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *bolt.DB
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	limiter       *ratelimit.Limiter
	tlsProvider   *mailforgeTLS.Provider
	acmeServer    *http.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	// Setup logger
	logger := SetupLogger(cfg.Logging)

	// Open storage
	db, err := OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, version, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, version string, db *bolt.DB, logger *slog.Logger) (*App, error) {
	templates, err := template.NewStorage(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create template storage: %w", err)
	}

	// Create upload store
	store, err := NewUploadStore(context.Background(), cfg.Uploads)
	if err != nil {
		return nil, err
	}
	uploads := upload.NewService(store, cfg.Uploads.Backend, cfg.Uploads.MaxBytes, logger.With("component", "uploads"))
	logger.Info("image uploads enabled", "backend", cfg.Uploads.Backend, "max_bytes", cfg.Uploads.MaxBytes)

	var uploadDir string
	if local, ok := store.(*upload.LocalStore); ok {
		uploadDir = local.Dir()
	}

	// Create mailer for test sends
	signer, err := dkim.NewSignerFromConfig(cfg.DKIM)
	if err != nil {
		return nil, err
	}
	if signer != nil {
		logger.Info("DKIM signing enabled", "domain", signer.Domain(), "selector", signer.Selector())
	}
	sender := mailer.New(cfg.SMTP, cfg.Server.Hostname, signer, logger.With("component", "mailer"))
	if sender.Enabled() {
		logger.Info("test sends enabled", "relay", cfg.SMTP.Addr(), "tls", cfg.SMTP.TLS)
	}

	a := &App{
		config: cfg,
		db:     db,
		logger: logger,
	}

	// Setup metrics
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(db, m, templates, cfg.Storage.Path, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics, logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	opts := api.Options{
		Templates: templates,
		Uploads:   uploads,
		UploadDir: uploadDir,
		Mailer:    sender,
		Version:   version,
	}

	// Setup HTTPS
	a.tlsProvider, err = mailforgeTLS.NewProvider(cfg.API.TLS)
	if err != nil {
		return nil, err
	}
	if a.tlsProvider != nil {
		opts.TLSConfig = a.tlsProvider.TLSConfig()
		a.logCertificates()
	}

	// Setup test send quotas
	if cfg.RateLimit.Enabled {
		a.limiter, err = ratelimit.NewLimiter(db, NewRateLimitConfig(cfg.RateLimit))
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		opts.Limiter = a.limiter
		logger.Info("test send rate limiting enabled")
	}

	a.apiServer = api.NewServer(opts, &cfg.API, logger.With("component", "api"))

	return a, nil
}

// logCertificates reports known certificates and warns when one expires soon.
func (a *App) logCertificates() {
	if a.tlsProvider.ACME() {
		a.logger.Info("ACME (Let's Encrypt) enabled", "domains", a.config.API.TLS.ACME.Domains)
	}

	certs, err := a.tlsProvider.Certificates()
	if err != nil {
		a.logger.Warn("failed to read TLS certificate info", "error", err)
		return
	}
	for _, cert := range certs {
		if cert.DaysLeft < 7 {
			a.logger.Warn("TLS certificate expires soon", "subject", cert.Subject, "days_left", cert.DaysLeft)
			continue
		}
		a.logger.Info("TLS certificate loaded", "subject", cert.Subject, "expires", cert.NotAfter, "days_left", cert.DaysLeft)
	}
}

// NewRateLimitConfig converts configured quotas to limiter settings.
func NewRateLimitConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	convert := func(v *config.LimitValues) *ratelimit.LimitConfig {
		if v == nil {
			return nil
		}
		return &ratelimit.LimitConfig{
			SendsPerHour: v.SendsPerHour,
			SendsPerDay:  v.SendsPerDay,
		}
	}

	return &ratelimit.Config{
		Global:        convert(cfg.Global),
		User:          convert(cfg.PerUser),
		IP:            convert(cfg.PerIP),
		Recipient:     convert(cfg.PerRecipient),
		FlushInterval: cfg.FlushInterval,
	}
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailforge",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"auth", a.config.API.AuthEnabled(),
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Channel to collect errors
	errCh := make(chan error, 2)

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Start metrics server
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Start ACME HTTP challenge server
	if a.tlsProvider != nil {
		if a.acmeServer = a.tlsProvider.ChallengeServer(a.config.API.TLS.ACME.HTTPAddr); a.acmeServer != nil {
			go func() {
				a.logger.Info("starting ACME HTTP challenge server", "addr", a.acmeServer.Addr)
				if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Warn("ACME HTTP server error", "error", err)
				}
			}()
		}
	}

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	// Graceful shutdown
	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop collector (persists counters)
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	// Stop rate limiter (persists counters)
	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	// Close storage
	if err := a.db.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// OpenDB opens the BoltDB file at path, creating its directory if needed.
func OpenDB(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewUploadStore creates the configured image backend.
func NewUploadStore(ctx context.Context, cfg config.UploadsConfig) (upload.Store, error) {
	switch cfg.Backend {
	case "s3":
		store, err := upload.NewS3Store(ctx, cfg.S3, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 upload store: %w", err)
		}
		return store, nil
	default:
		store, err := upload.NewLocalStore(cfg.Dir, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create local upload store: %w", err)
		}
		return store, nil
	}
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
