package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	importhandler "github.com/kamilgrymuza/csv2mt/internal/domain/import/handler"
)

// NewRouter builds the HTTP routes for deps.
func NewRouter(deps *Dependencies) http.Handler {
	cfg := deps.Config.Server

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(importhandler.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	r.Route("/api", func(r chi.Router) {
		r.Use(importhandler.RateLimit(limiter))
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		deps.ConversionHandler.Routes(r)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{
			"Content-Disposition",
			importhandler.HeaderParsingMethod,
			importhandler.HeaderTransactionCount,
			importhandler.HeaderBalanceMismatch,
		},
	})
	return c.Handler(r)
}
