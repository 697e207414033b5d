package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

// RequestLogger stores a logger carrying the request id in the request context.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			next.ServeHTTP(w, r.WithContext(logger.ToContext(r.Context(), l)))
		})
	}
}

// RateLimit rejects requests with 429 once limiter runs dry.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.FromContext(r.Context(), nil).Warn("rate limit exceeded", "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
