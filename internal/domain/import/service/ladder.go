package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/extractor"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/loader"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/parser"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

var (
	errNoText    = errors.New("document has no extractable text")
	errNoContent = errors.New("document has no content lines")
)

// strategy is one rung of the ladder. It may return a partial extraction
// together with an error so that consumption is still counted.
type strategy func(ctx context.Context) (*statement.Extraction, error)

// run is the state of one walk down the ladder. The attempted methods live
// on the outcome, not on the service.
type run struct {
	s        *ConversionService
	doc      *statement.Document
	outcome  *statement.ExtractionOutcome
	warnings []string
}

// attempt runs fn as method and records it. ok is set when fn yielded at
// least one transaction. A non-nil error means the run must stop.
func (r *run) attempt(ctx context.Context, method statement.ParsingMethod, fn strategy) (ext *statement.Extraction, ok bool, err error) {
	ctx, span := r.s.tracer.Start(ctx, "service.attempt", trace.WithAttributes(
		attribute.String("method", string(method)),
	))
	defer span.End()

	ext, callErr := fn(ctx)
	if ext != nil {
		r.outcome.Usage.Add(ext.Usage)
	}

	a := statement.Attempt{Method: method, Err: callErr}
	if ext != nil {
		a.Transactions = len(ext.Transactions)
		if a.Err == nil && a.Transactions == 0 {
			a.Err = ext.Absorbed
		}
	}
	r.outcome.Attempts = append(r.outcome.Attempts, a)
	span.SetAttributes(attribute.Int("transactions", a.Transactions))

	log := logger.FromContext(ctx, r.s.logger)
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, "request context ended")
		return nil, false, abort(callErr, ctxErr)
	}
	if a.Transactions > 0 {
		r.outcome.Method = method
		log.Info("extraction method resolved",
			"method", method,
			"transactions", a.Transactions,
			"attempts", len(r.outcome.Attempts),
		)
		return ext, true, nil
	}

	if a.Err != nil {
		span.RecordError(a.Err)
	}
	log.Info("extraction method yielded no transactions, advancing",
		"method", method,
		"error", a.Err,
	)
	return nil, false, nil
}

// abort builds the error returned when the caller's context ends mid-run.
func abort(callErr, ctxErr error) error {
	var svcErr *statement.ServiceError
	if errors.As(callErr, &svcErr) && errors.Is(svcErr, ctxErr) {
		return svcErr
	}
	return &statement.ServiceError{Op: "convert", Transient: true, Err: ctxErr}
}

// pageImage: vision first, then page text in one call or in chunks.
func (r *run) pageImage(ctx context.Context) (*statement.Extraction, error) {
	src := r.doc.Source
	ext, ok, err := r.attempt(ctx, statement.MethodPDFVision, func(ctx context.Context) (*statement.Extraction, error) {
		return r.s.extractor.ExtractSingle(ctx, understanding.ChunkInput{Blob: src.Content, MIMEType: src.MIMEType})
	})
	if err != nil || ok {
		return ext, err
	}

	method := statement.MethodPDFTextChunked
	if r.s.isSmall(r.doc) {
		method = statement.MethodPDFTextSingle
	}
	ext, ok, err = r.attempt(ctx, method, func(ctx context.Context) (*statement.Extraction, error) {
		if !r.doc.HasPageText() {
			return nil, errNoText
		}
		if method == statement.MethodPDFTextSingle {
			whole := extractor.SplitPages(r.doc.Pages, len(r.doc.Pages))
			return r.s.extractor.ExtractSingle(ctx, understanding.ChunkInput{Text: whole[0].Text})
		}
		return r.s.extractor.Extract(ctx, extractor.SplitPages(r.doc.Pages, r.s.cfg.ChunkPages), nil)
	})
	if err != nil || ok {
		return ext, err
	}
	return nil, nil
}

// tabular: structural parse with a detected specification, the comma
// re-rendering for spreadsheets, then service extraction.
func (r *run) tabular(ctx context.Context) (*statement.Extraction, error) {
	lines := r.doc.Lines
	small := r.s.isSmall(r.doc)

	det, detErr := r.s.detector.Detect(ctx, lines)
	if det != nil {
		r.outcome.Usage.Add(det.Usage)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, abort(detErr, ctxErr)
	}

	if detErr != nil {
		r.warnings = append(r.warnings, detErr.Error())
		logger.FromContext(ctx, r.s.logger).Info("format detection failed", "error", detErr)
		method := statement.MethodFormatDetectFailedChunked
		if small {
			method = statement.MethodFormatDetectFailedSingle
		}
		return r.fallback(ctx, method, nil)
	}

	spec := det.Spec
	r.outcome.FormatSpecification = spec
	ext, ok, err := r.attempt(ctx, statement.MethodFormatSpecPython, func(context.Context) (*statement.Extraction, error) {
		return parse(lines, spec)
	})
	if err != nil || ok {
		return ext, err
	}
	r.s.detector.Forget(det.Key)

	if r.doc.Source.Category == statement.CategorySpreadsheet {
		ext, ok, err = r.attempt(ctx, statement.MethodFormatSpecCSVRetry, r.csvRetry)
		if err != nil || ok {
			return ext, err
		}
	}

	method := statement.MethodFormatSpecFallbackChunked
	if small {
		method = statement.MethodFormatSpecFallbackSingle
	}
	return r.fallback(ctx, method, spec)
}

// csvRetry re-renders the spreadsheet comma-delimited, detects again and
// parses the new rendering.
func (r *run) csvRetry(ctx context.Context) (*statement.Extraction, error) {
	lines := loader.RenderDelimited(r.doc.Rows, ',')
	det, err := r.s.detector.Detect(ctx, lines)
	if err != nil {
		if det != nil {
			return &statement.Extraction{Usage: det.Usage}, err
		}
		return nil, err
	}

	ext, err := parse(lines, det.Spec)
	if ext != nil {
		ext.Usage.Add(det.Usage)
		if len(ext.Transactions) > 0 {
			r.outcome.FormatSpecification = det.Spec
		} else {
			r.s.detector.Forget(det.Key)
		}
	}
	return ext, err
}

// fallback sends the lines to the service, in one call when the document is
// small and in chunks otherwise. hint may be nil.
func (r *run) fallback(ctx context.Context, method statement.ParsingMethod, hint *statement.FormatSpecification) (*statement.Extraction, error) {
	ext, ok, err := r.attempt(ctx, method, func(ctx context.Context) (*statement.Extraction, error) {
		lines := r.doc.Lines
		if !hasContent(lines) {
			return nil, errNoContent
		}
		if method.IsChunked() {
			chunks := extractor.SplitLines(lines, r.s.cfg.ChunkLines, r.s.cfg.ChunkContextLines)
			return r.s.extractor.Extract(ctx, chunks, hint)
		}
		return r.s.extractor.ExtractSingle(ctx, understanding.ChunkInput{Text: strings.Join(lines, "\n"), Hint: hint})
	})
	if err != nil || ok {
		return ext, err
	}
	return nil, nil
}

func parse(lines []string, spec *statement.FormatSpecification) (*statement.Extraction, error) {
	res, err := parser.Parse(lines, spec)
	if err != nil {
		return nil, fmt.Errorf("structural parse: %w", err)
	}
	ext := res.Extraction()
	return &ext, nil
}

func hasContent(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}
