package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/banks"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/detector"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/extractor"
	importhandler "github.com/kamilgrymuza/csv2mt/internal/domain/import/handler"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/loader"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/normalizer"
	importservice "github.com/kamilgrymuza/csv2mt/internal/domain/import/service"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/mt940"
	"github.com/kamilgrymuza/csv2mt/internal/domain/usage"
	"github.com/kamilgrymuza/csv2mt/pkg/config"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	Understanding understanding.Client
	FormatCache   *cache.Cache
	Registry      *prometheus.Registry
	Recorder      usage.Recorder

	// Pipeline
	Loader     *loader.Loader
	Detector   *detector.Detector
	Extractor  *extractor.Extractor
	Normalizer *normalizer.Normalizer
	Encoder    *mt940.Encoder
	Banks      *banks.Registry

	// Services
	ConversionService *importservice.ConversionService

	// Handlers
	ConversionHandler *importhandler.ConversionHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize the understanding service client
	if err := deps.initUnderstanding(ctx); err != nil {
		return nil, fmt.Errorf("failed to init understanding client: %w", err)
	}

	// Initialize usage recorders
	if err := deps.initRecorders(); err != nil {
		return nil, fmt.Errorf("failed to init recorders: %w", err)
	}

	// Initialize pipeline components and the service
	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initUnderstanding builds the Gemini client wrapped in the retry policy
func (d *Dependencies) initUnderstanding(ctx context.Context) error {
	gemini, err := understanding.NewGeminiClient(ctx, understanding.GeminiConfig{
		APIKey: d.Config.Gemini.APIKey,
		Model:  d.Config.Gemini.Model,
	}, d.Logger)
	if err != nil {
		return err
	}

	ext := d.Config.Extraction
	d.Understanding = understanding.WithRetry(gemini, understanding.RetryPolicy{
		MaxAttempts: ext.RetryAttempts,
		BaseBackoff: ext.RetryBackoff,
		CallTimeout: ext.CallTimeout,
	}, d.Logger)

	d.Logger.Info("understanding client initialized", "model", d.Config.Gemini.Model)
	return nil
}

// initRecorders builds the usage recorder chain
func (d *Dependencies) initRecorders() error {
	recorders := usage.Multi{usage.NewLogRecorder(d.Logger)}

	if d.Config.Observability.MetricsEnabled {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := usage.NewMetricsRecorder(d.Registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		recorders = append(recorders, metrics)
	}

	if path := d.Config.Observability.UsageCSVPath; path != "" {
		recorders = append(recorders, usage.NewCSVRecorder(path))
		d.Logger.Info("usage csv enabled", "path", path)
	}

	d.Recorder = recorders
	d.Logger.Info("recorders initialized", "count", len(recorders))
	return nil
}

// initServices initializes the pipeline and the conversion service
func (d *Dependencies) initServices() error {
	ext := d.Config.Extraction

	if ext.FormatCacheTTL > 0 {
		d.FormatCache = cache.New(ext.FormatCacheTTL, 2*ext.FormatCacheTTL)
	}

	d.Loader = loader.New(loader.Config{
		EncodingPriority: ext.EncodingPriority,
		MaxFileSize:      d.Config.Server.MaxUploadBytes,
	}, d.Logger)
	d.Detector = detector.New(d.Understanding, d.FormatCache, detector.Config{
		SampleLines: ext.DetectionSampleLines,
		CacheTTL:    ext.FormatCacheTTL,
	}, d.Logger)
	d.Extractor = extractor.New(d.Understanding, extractor.Config{
		MaxConcurrency: ext.MaxConcurrency,
	}, d.Logger)
	d.Normalizer = normalizer.New(normalizer.Config{
		DefaultCurrency: ext.DefaultCurrency,
	}, nil, d.Logger)
	d.Encoder = mt940.New(mt940.Config{
		MaxTransactionsPerMessage: d.Config.Encoder.MaxTransactionsPerMessage,
		TransactionTypeCode:       d.Config.Encoder.TransactionTypeCode,
		LineSeparator:             d.Config.Encoder.LineSeparator,
	})

	d.Banks = banks.Default()

	d.ConversionService = importservice.NewConversionService(
		d.Loader,
		d.Detector,
		d.Extractor,
		d.Normalizer,
		d.Encoder,
		importservice.Config{
			LineThreshold:     ext.LineThreshold,
			PageThreshold:     ext.PageThreshold,
			ChunkLines:        ext.ChunkLines,
			ChunkContextLines: ext.ChunkContextLines,
			ChunkPages:        ext.ChunkPages,
		},
		d.Logger,
	).WithRecorder(d.Recorder).
		WithBanks(d.Banks)

	d.Logger.Info("services initialized",
		"format_cache", d.FormatCache != nil,
		"banks", d.Banks.Supported(),
		"call_timeout", ext.CallTimeout.String(),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ConversionHandler = importhandler.NewConversionHandler(d.ConversionService, d.Config.Server.MaxUploadBytes, d.Logger).
		WithBanks(d.ConversionService)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup releases cached state
func (d *Dependencies) Cleanup() {
	if d.FormatCache != nil {
		d.FormatCache.Flush()
	}
	d.Logger.Info("cleanup completed", "at", time.Now().Format(time.RFC3339))
}
