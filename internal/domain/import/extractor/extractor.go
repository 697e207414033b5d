// Package extractor runs service-based extraction over one or more chunks of
// a document and merges the partial results in document order.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

const tracerName = "github.com/kamilgrymuza/csv2mt/extractor"

// isoDate is the layout of metadata dates produced by the service.
const isoDate = "2006-01-02"

// Config bounds the fan-out.
type Config struct {
	MaxConcurrency int
}

// Extractor is safe for concurrent use if its client is.
type Extractor struct {
	client understanding.Client
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates an Extractor. client should already carry the retry policy.
func New(client understanding.Client, cfg Config, logger *slog.Logger) *Extractor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Extractor{
		client: client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// chunkResult is stored by chunk index so that merging does not depend on
// completion order.
type chunkResult struct {
	ext *statement.Extraction
	err error
}

// Extract calls the service once per chunk, at most MaxConcurrency at a
// time. A failed or rejected chunk counts as empty and adds a warning. If ctx
// ends before all chunks finish, the pending calls are abandoned and a
// retryable *statement.ServiceError is returned.
func (e *Extractor) Extract(ctx context.Context, chunks []Chunk, hint *statement.FormatSpecification) (*statement.Extraction, error) {
	ctx, span := e.tracer.Start(ctx, "extractor.Extract", trace.WithAttributes(
		attribute.Int("chunks", len(chunks)),
		attribute.Int("max_concurrency", e.cfg.MaxConcurrency),
	))
	defer span.End()

	results := make([]chunkResult, len(chunks))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, c := range chunks {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = chunkResult{err: ctx.Err()}
				return nil
			}
			ext, err := e.call(ctx, understanding.ChunkInput{
				Text:    c.Text,
				Context: c.Context,
				Hint:    hint,
				Index:   c.Index,
				Total:   len(chunks),
			})
			results[i] = chunkResult{ext: ext, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "request context ended")
		return partialUsage(results), &statement.ServiceError{Op: "extract_transactions", Transient: true, Err: err}
	}

	merged := merge(results)
	span.SetAttributes(
		attribute.Int("transactions", len(merged.Transactions)),
		attribute.Int("input_tokens", merged.Usage.InputTokens),
		attribute.Int("output_tokens", merged.Usage.OutputTokens),
	)
	return merged, nil
}

// ExtractSingle is the single-call path: the whole text, or the raw document
// for vision. A failed call is absorbed as an empty result with a warning.
func (e *Extractor) ExtractSingle(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error) {
	in.Total = 1
	ext, err := e.call(ctx, in)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return partialUsage([]chunkResult{{ext: ext}}), &statement.ServiceError{Op: "extract_transactions", Transient: true, Err: ctxErr}
	}
	return merge([]chunkResult{{ext: ext, err: err}}), nil
}

func (e *Extractor) call(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error) {
	ctx, span := e.tracer.Start(ctx, "extractor.chunk", trace.WithAttributes(
		attribute.Int("chunk", in.Index),
		attribute.Bool("vision", in.IsVision()),
	))
	defer span.End()

	start := time.Now()
	ext, err := e.client.ExtractTransactions(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("chunk extraction failed",
			"chunk", in.Index,
			"total", in.Total,
			"duration", time.Since(start),
			"error", err,
		)
		return ext, err
	}

	e.logger.Debug("chunk extracted",
		"chunk", in.Index,
		"total", in.Total,
		"transactions", len(ext.Transactions),
		"duration", time.Since(start),
	)
	return ext, nil
}

// merge concatenates chunk results in index order.
func merge(results []chunkResult) *statement.Extraction {
	merged := &statement.Extraction{}
	var errs error

	for i, r := range results {
		if r.ext != nil {
			merged.Usage.Add(r.ext.Usage)
		}
		if r.err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chunk %d of %d: %w", i+1, len(results), r.err))
			continue
		}
		if r.ext == nil {
			continue
		}
		merged.Transactions = append(merged.Transactions, r.ext.Transactions...)
		merged.Warnings = append(merged.Warnings, r.ext.Warnings...)
		mergeMetadata(&merged.Metadata, r.ext.Metadata)
	}

	for _, err := range multierr.Errors(errs) {
		merged.Warnings = append(merged.Warnings, err.Error())
	}
	merged.Absorbed = errs
	return merged
}

// mergeMetadata folds a later chunk's metadata into m: first account and
// currency win, dates widen, the opening balance comes from the first chunk
// that has one and the closing balance from the last.
func mergeMetadata(m *statement.RawMetadata, next statement.RawMetadata) {
	if m.AccountNumber == "" {
		m.AccountNumber = next.AccountNumber
	}
	if m.Currency == "" {
		m.Currency = next.Currency
	}
	if m.OpeningBalance == "" {
		m.OpeningBalance = next.OpeningBalance
	}
	if next.ClosingBalance != "" {
		m.ClosingBalance = next.ClosingBalance
	}
	m.StartDate = pickDate(m.StartDate, next.StartDate, true)
	m.EndDate = pickDate(m.EndDate, next.EndDate, false)
}

// pickDate returns the earlier (or later) of two ISO dates. Values that are
// not ISO dates never replace a value already set.
func pickDate(current, next string, earliest bool) string {
	if current == "" {
		return next
	}
	if next == "" {
		return current
	}
	c, err := time.Parse(isoDate, current)
	if err != nil {
		return current
	}
	n, err := time.Parse(isoDate, next)
	if err != nil {
		return current
	}
	if earliest == n.Before(c) {
		return next
	}
	return current
}

func partialUsage(results []chunkResult) *statement.Extraction {
	ext := &statement.Extraction{}
	for _, r := range results {
		if r.ext != nil {
			ext.Usage.Add(r.ext.Usage)
		}
	}
	return ext
}
