package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const ownerKey ctxKey = iota

// ownerFromContext returns the authenticated user id.
func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware allows the configured editor origins. With no origins
// configured cross-origin requests get no CORS headers.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	if len(s.config.CORSOrigins) == 0 {
		// cors treats an empty list as "*"
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// authMiddleware resolves the request owner.
//
// The shared api_key (Bearer token or X-API-Key header) runs as default_user.
// Per-user tokens are sent with HTTP Basic auth as user id and token and are
// checked against the bcrypt hashes in api.users. Without any credentials
// configured every request runs as default_user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.AuthEnabled() {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, s.config.DefaultUser)))
			return
		}

		owner, ok := s.authenticate(r)
		if !ok {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			w.Header().Set("WWW-Authenticate", `Basic realm="mailforge"`)
			s.sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	if user, token, ok := r.BasicAuth(); ok {
		hash, exists := s.config.Users[user]
		if !exists {
			return "", false
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			return "", false
		}
		return user, true
	}

	if s.config.APIKey == "" {
		return "", false
	}

	// Check Authorization header
	auth := r.Header.Get("Authorization")
	if auth == "" {
		// Also check X-API-Key header
		auth = r.Header.Get("X-API-Key")
	}
	auth = strings.TrimPrefix(auth, "Bearer ")

	if subtle.ConstantTimeCompare([]byte(auth), []byte(s.config.APIKey)) != 1 {
		return "", false
	}
	return s.config.DefaultUser, true
}
