// Package usage receives one ExtractionOutcome per conversion request and
// forwards it to logs, metrics and an optional CSV ledger.
package usage

import (
	"context"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Recorder consumes the analytics record of a conversion.
type Recorder interface {
	Record(ctx context.Context, outcome statement.ExtractionOutcome) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, outcome statement.ExtractionOutcome) error

func (f RecorderFunc) Record(ctx context.Context, outcome statement.ExtractionOutcome) error {
	return f(ctx, outcome)
}

// Multi fans an outcome out to every recorder. All recorders run even when
// one fails; their errors are combined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, outcome statement.ExtractionOutcome) error {
	var errs error
	for _, r := range m {
		if r == nil {
			continue
		}
		errs = multierr.Append(errs, r.Record(ctx, outcome))
	}
	return errs
}

// LogRecorder writes one structured log line per outcome.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, o statement.ExtractionOutcome) error {
	attrs := []any{
		slog.String("conversion_id", o.ID.String()),
		slog.String("filename", o.Filename),
		slog.String("category", string(o.Category)),
		slog.String("method", string(o.Method)),
		slog.Any("attempted", o.AttemptedMethods()),
		slog.Int("transactions", o.TransactionCount()),
		slog.Int("lines", o.LineCount),
		slog.Int("pages", o.PageCount),
		slog.Int("input_tokens", o.Usage.InputTokens),
		slog.Int("output_tokens", o.Usage.OutputTokens),
		slog.Int("service_calls", o.Usage.Calls),
		slog.Bool("success", o.Success),
		slog.Duration("duration", o.Duration),
	}

	switch {
	case o.Success:
		r.logger.InfoContext(ctx, "conversion completed", attrs...)
	case o.ErrorCode == statement.CodeEmptyStatement:
		// an expected business outcome, not a failure of the service
		r.logger.InfoContext(ctx, "conversion produced no transactions", attrs...)
	default:
		attrs = append(attrs, slog.String("error_code", o.ErrorCode), slog.String("error", o.ErrorMessage))
		r.logger.WarnContext(ctx, "conversion failed", attrs...)
	}
	return nil
}
