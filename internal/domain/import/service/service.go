// Package service provides the conversion orchestration logic: load the
// upload, resolve the cheapest extraction method that yields transactions,
// normalize the ledger and encode it as MT940.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/banks"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/detector"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/extractor"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/normalizer"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/mt940"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/internal/domain/usage"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

const tracerName = "github.com/kamilgrymuza/csv2mt/service"

// Config holds the size thresholds and chunk sizes of the method ladder.
type Config struct {
	LineThreshold     int
	PageThreshold     int
	ChunkLines        int
	ChunkContextLines int
	ChunkPages        int
}

// DocumentLoader turns an upload into the canonical document.
type DocumentLoader interface {
	Load(ctx context.Context, filename string, content []byte) (*statement.Document, error)
}

// FormatDetector obtains a format specification for tabular lines.
type FormatDetector interface {
	Detect(ctx context.Context, lines []string) (*detector.Result, error)
	// Forget drops a cached specification that yielded no transactions.
	Forget(key string)
}

// TransactionExtractor runs service-based extraction.
type TransactionExtractor interface {
	Extract(ctx context.Context, chunks []extractor.Chunk, hint *statement.FormatSpecification) (*statement.Extraction, error)
	ExtractSingle(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error)
}

// Request is one conversion request.
type Request struct {
	Filename      string
	Content       []byte
	AccountNumber string // overrides the account found in the document
	// Bank selects a fixed bank export template instead of the method
	// ladder. Empty runs the ladder.
	Bank string
}

// Conversion is the result of a request. Outcome is always populated, also
// when Convert returns an error.
type Conversion struct {
	Outcome statement.ExtractionOutcome
	Output  *mt940.Result
}

// ConversionService orchestrates the conversion pipeline.
type ConversionService struct {
	loader     DocumentLoader
	detector   FormatDetector
	extractor  TransactionExtractor
	normalizer *normalizer.Normalizer
	encoder    *mt940.Encoder
	recorder   usage.Recorder  // Optional: nil if usage is not recorded
	banks      *banks.Registry // Optional: nil if no bank templates are offered
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewConversionService creates a new conversion service
func NewConversionService(
	loader DocumentLoader,
	detector FormatDetector,
	extractor TransactionExtractor,
	normalizer *normalizer.Normalizer,
	encoder *mt940.Encoder,
	cfg Config,
	logger *slog.Logger,
) *ConversionService {
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = 100
	}
	if cfg.ChunkPages <= 0 {
		cfg.ChunkPages = 3
	}
	return &ConversionService{
		loader:     loader,
		detector:   detector,
		extractor:  extractor,
		normalizer: normalizer,
		encoder:    encoder,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// WithRecorder adds usage recording to the conversion service
func (s *ConversionService) WithRecorder(recorder usage.Recorder) *ConversionService {
	s.recorder = recorder
	return s
}

// WithBanks adds fixed bank export templates to the conversion service
func (s *ConversionService) WithBanks(registry *banks.Registry) *ConversionService {
	s.banks = registry
	return s
}

// SupportedBanks lists the bank templates Request.Bank accepts.
func (s *ConversionService) SupportedBanks() []string {
	if s.banks == nil {
		return []string{}
	}
	return s.banks.Supported()
}

// Convert runs the whole pipeline for one upload. The outcome is handed to
// the usage recorder whatever happens.
func (s *ConversionService) Convert(ctx context.Context, req Request) (*Conversion, error) {
	ctx, span := s.tracer.Start(ctx, "service.Convert", trace.WithAttributes(
		attribute.String("filename", req.Filename),
		attribute.Int("bytes", len(req.Content)),
		attribute.String("bank", req.Bank),
	))
	defer span.End()

	conv := &Conversion{Outcome: statement.ExtractionOutcome{
		ID:        uuid.New(),
		Filename:  req.Filename,
		StartedAt: time.Now(),
	}}
	log := logger.FromContext(ctx, s.logger).With("conversion_id", conv.Outcome.ID.String())

	err := s.convert(ctx, req, conv)

	outcome := &conv.Outcome
	outcome.Duration = time.Since(outcome.StartedAt)
	outcome.Success = err == nil
	if err != nil {
		outcome.ErrorCode = statement.ErrorCode(err)
		outcome.ErrorMessage = err.Error()
		span.SetStatus(codes.Error, outcome.ErrorCode)
		if errors.Is(err, statement.ErrEmptyStatement) {
			log.Info("no transactions extracted", "attempted", outcome.AttemptedMethods())
		} else {
			span.RecordError(err)
			log.Warn("conversion failed", "error_code", outcome.ErrorCode, "error", err)
		}
	}
	span.SetAttributes(
		attribute.String("method", string(outcome.Method)),
		attribute.Int("transactions", outcome.TransactionCount()),
	)

	if s.recorder != nil {
		if recErr := s.recorder.Record(context.WithoutCancel(ctx), *outcome); recErr != nil {
			log.Warn("failed to record usage", "error", recErr)
		}
	}
	return conv, err
}

func (s *ConversionService) convert(ctx context.Context, req Request, conv *Conversion) error {
	outcome := &conv.Outcome

	doc, err := s.loader.Load(ctx, req.Filename, req.Content)
	if err != nil {
		return err
	}
	outcome.Category = doc.Source.Category
	outcome.Encoding = doc.Source.Encoding
	outcome.LineCount = doc.LineCount()
	outcome.PageCount = doc.PageCount()

	var ext *statement.Extraction
	if req.Bank != "" {
		ext, err = s.parseBank(ctx, req.Bank, doc, outcome)
	} else {
		ext, err = s.Resolve(ctx, doc, outcome)
	}
	if err != nil {
		return err
	}

	ledger, err := s.normalizer.Normalize(ext, normalizer.Options{AccountNumber: req.AccountNumber})
	if err != nil {
		return err
	}
	outcome.Ledger = ledger

	out, err := s.encoder.Encode(ledger, req.Filename)
	if err != nil {
		return err
	}
	ledger.Warnings = append(ledger.Warnings, out.Warnings...)
	conv.Output = out
	return nil
}

// Resolve walks the method ladder for doc and returns the first extraction
// with at least one transaction. Every attempt is appended to
// outcome.Attempts and its consumption added to outcome.Usage. When no
// method yields anything the error is a *statement.EmptyStatementError
// listing the attempted methods. If ctx ends the run stops with a
// retryable *statement.ServiceError.
func (s *ConversionService) Resolve(ctx context.Context, doc *statement.Document, outcome *statement.ExtractionOutcome) (*statement.Extraction, error) {
	r := &run{s: s, doc: doc, outcome: outcome}

	var (
		ext *statement.Extraction
		err error
	)
	switch {
	case doc.Source.Category == statement.CategoryPageImage:
		ext, err = r.pageImage(ctx)
	case doc.Source.Category.IsTabular():
		ext, err = r.tabular(ctx)
	default:
		return nil, fmt.Errorf("%w: category %q", statement.ErrUnsupportedDocument, doc.Source.Category)
	}
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, &statement.EmptyStatementError{Attempted: outcome.AttemptedMethods()}
	}

	ext.Warnings = append(r.warnings, ext.Warnings...)
	return ext, nil
}

// parseBank reads doc with the export template of bank. The attempt is
// recorded as MethodBankTemplate.
func (s *ConversionService) parseBank(ctx context.Context, bank string, doc *statement.Document, outcome *statement.ExtractionOutcome) (*statement.Extraction, error) {
	if s.banks == nil {
		return nil, fmt.Errorf("%w: %q", statement.ErrUnknownBank, bank)
	}
	p, err := s.banks.Get(bank)
	if err != nil {
		return nil, err
	}
	if doc.Source.Category != statement.CategoryDelimitedText {
		return nil, fmt.Errorf("%w: the %s template reads CSV exports, got %s", statement.ErrUnsupportedDocument, p.Name(), doc.Source.Category)
	}

	ext, err := p.Parse(doc.Lines)
	a := statement.Attempt{Method: statement.MethodBankTemplate, Err: err}
	if ext != nil {
		a.Transactions = len(ext.Transactions)
	}
	outcome.Attempts = append(outcome.Attempts, a)
	if err != nil {
		return nil, err
	}
	if a.Transactions == 0 {
		return nil, &statement.EmptyStatementError{Attempted: outcome.AttemptedMethods()}
	}

	outcome.Method = statement.MethodBankTemplate
	logger.FromContext(ctx, s.logger).Info("bank template applied", "bank", p.Name(), "transactions", a.Transactions)
	return ext, nil
}

func (s *ConversionService) isSmall(doc *statement.Document) bool {
	return doc.IsSmall(s.cfg.LineThreshold, s.cfg.PageThreshold)
}
