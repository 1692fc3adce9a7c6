package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/ipfilter"
	"github.com/foxzi/mailforge/internal/mailer"
	"github.com/foxzi/mailforge/internal/metrics"
	"github.com/foxzi/mailforge/internal/ratelimit"
	"github.com/foxzi/mailforge/internal/template"
	"github.com/foxzi/mailforge/internal/upload"
)

// TemplateStore persists saved templates per owner.
type TemplateStore interface {
	Save(ctx context.Context, owner string, rec *template.Record) error
	Get(ctx context.Context, owner, id string) (*template.Record, error)
	List(ctx context.Context, owner string, filter template.ListFilter) ([]*template.Record, error)
	Delete(ctx context.Context, owner, id string) error
}

// Sender delivers test sends.
type Sender interface {
	Enabled() bool
	Send(ctx context.Context, to []string, model template.Model) (*mailer.Result, error)
}

// SendLimiter enforces test send quotas.
type SendLimiter interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
	Check(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
	GetStats(ctx context.Context, level ratelimit.Level, key string) (*ratelimit.Stats, error)
}

// Options are the collaborators of the API server. Nil collaborators disable
// the routes that need them.
type Options struct {
	Templates TemplateStore
	Uploads   *upload.Service
	UploadDir string // served under /uploads/ when non-empty
	Mailer    Sender
	Limiter   SendLimiter // optional quota for test sends
	TLSConfig *tls.Config // serve HTTPS when set
	Version   string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	opts       Options
	config     *config.APIConfig
	filter     *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(opts Options, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		opts:      opts,
		config:    cfg,
		filter:    ipfilter.New(cfg.AllowedIPs, cfg.TrustProxy, logger),
		logger:    logger,
		startTime: time.Now(),
	}

	if s.filter.Enabled() {
		logger.Info("API IP filtering enabled", "allowed_networks", s.filter.Count())
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.filter.HTTPMiddleware)

	// Health check (no auth required). /api/health is kept for editor clients.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)

	if s.opts.UploadDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.opts.UploadDir)))
		s.router.Get("/uploads/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			fs.ServeHTTP(w, r)
		})
	}

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/layout", s.handleLayout)
		r.Post("/preview", s.handlePreview)
		r.Post("/export", s.handleExport)

		if s.opts.Uploads != nil {
			r.Post("/uploads", s.handleUpload)
			r.Delete("/uploads/{key}", s.handleDeleteUpload)
		}

		if s.opts.Templates != nil {
			r.Route("/templates", func(r chi.Router) {
				r.Get("/", s.handleListTemplates)
				r.Post("/", s.handleCreateTemplate)
				r.Get("/{id}", s.handleGetTemplate)
				r.Delete("/{id}", s.handleDeleteTemplate)
				r.Get("/{id}/export", s.handleExportTemplate)
			})
		}

		if s.opts.Mailer != nil {
			r.Post("/send-test", s.handleSendTest)
			r.Get("/send-test/quota", s.handleSendQuota)
		}
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.opts.TLSConfig,
	}

	var err error
	if s.opts.TLSConfig != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
