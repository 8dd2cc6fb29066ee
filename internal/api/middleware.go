package api

import (
	"log/slog"
	"net/http"
	"time"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
)

// loggingMiddleware logs all incoming requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		s.logger.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", lrw.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// identityMiddleware resolves the caller. A request without a token proceeds as the guest; a
// request with an invalid token is rejected.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Resolver.Resolve(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

// adminOnly rejects guests with 401 and non-admin users with 403
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		switch {
		case id.IsGuest():
			s.writeError(w, r, serrors.ErrUnauthorized)
		case !id.IsAdmin():
			s.writeError(w, r, serrors.ErrForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// requireUser rejects the guest identity
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()).IsGuest() {
			s.writeError(w, r, serrors.ErrUnauthorized)
			return
		}
		next(w, r)
	}
}
