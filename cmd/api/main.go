// Command api serves the statement to MT940 conversion endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kamilgrymuza/csv2mt/pkg/config"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.New("error", "json").Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	deps, err := InitDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
