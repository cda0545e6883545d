// unadulting/handlers/middleware.go
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"unadulting/auth"
	"unadulting/models"
	"unadulting/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// NewStructuredLogger returns request-logging middleware over slog.
func NewStructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"ip", utils.HashIP(utils.GetIPAddress(r)),
			)
		})
	}
}

// SessionMiddleware resolves a Bearer token into a request-scoped session.
// Every request gets an explicit session attached, nil for anonymous or
// invalid tokens, so downstream code never falls back to another caller's
// tracked session.
func SessionMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var session *models.Session
			header := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
				parsed, err := app.Sessions().ParseToken(token)
				if err != nil {
					app.Logger().Debug("Rejected bearer token", "error", err)
				} else {
					session = parsed
				}
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}

// RateLimitMiddleware applies the per-IP token bucket to mutating requests.
// This is the server-side guard behind the per-action interval checks the
// facades enforce.
func RateLimitMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				ip := utils.HashIP(utils.GetIPAddress(r))
				if !app.RateLimiter().GetLimiter(ip).Allow() {
					respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests. Slow down."}, app)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireModerator guards the moderation routes. The role check re-derives
// role from the database on every request.
func RequireModerator(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !app.Moderation().IsModerator(r.Context()) {
				respondJSON(w, http.StatusForbidden, map[string]string{"error": "Moderator role required"}, app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
