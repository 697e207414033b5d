package usage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// OutcomeRow is one line of the usage CSV.
type OutcomeRow struct {
	ID               string `csv:"conversion_id"`
	StartedAt        string `csv:"started_at"`
	Filename         string `csv:"filename"`
	Category         string `csv:"category"`
	Encoding         string `csv:"encoding"`
	Method           string `csv:"parsing_method"`
	Attempted        string `csv:"attempted_methods"`
	Transactions     int    `csv:"transactions"`
	Lines            int    `csv:"lines"`
	Pages            int    `csv:"pages"`
	InputTokens      int    `csv:"input_tokens"`
	OutputTokens     int    `csv:"output_tokens"`
	ServiceCalls     int    `csv:"service_calls"`
	Success          bool   `csv:"success"`
	ErrorCode        string `csv:"error_code"`
	BalanceMismatch  bool   `csv:"balance_mismatch"`
	DurationMillisec int64  `csv:"duration_ms"`
}

// NewOutcomeRow flattens an outcome.
func NewOutcomeRow(o statement.ExtractionOutcome) OutcomeRow {
	attempted := make([]string, 0, len(o.Attempts))
	for _, m := range o.AttemptedMethods() {
		attempted = append(attempted, string(m))
	}
	return OutcomeRow{
		ID:               o.ID.String(),
		StartedAt:        o.StartedAt.UTC().Format(time.RFC3339),
		Filename:         o.Filename,
		Category:         string(o.Category),
		Encoding:         o.Encoding,
		Method:           string(o.Method),
		Attempted:        strings.Join(attempted, "|"),
		Transactions:     o.TransactionCount(),
		Lines:            o.LineCount,
		Pages:            o.PageCount,
		InputTokens:      o.Usage.InputTokens,
		OutputTokens:     o.Usage.OutputTokens,
		ServiceCalls:     o.Usage.Calls,
		Success:          o.Success,
		ErrorCode:        o.ErrorCode,
		BalanceMismatch:  o.Ledger != nil && o.Ledger.Balance != nil && !o.Ledger.Balance.OK,
		DurationMillisec: o.Duration.Milliseconds(),
	}
}

// CSVRecorder appends one row per outcome to a CSV file, writing the header
// when the file is empty.
type CSVRecorder struct {
	mu   sync.Mutex
	path string
}

func NewCSVRecorder(path string) *CSVRecorder {
	return &CSVRecorder{path: path}
}

func (r *CSVRecorder) Record(_ context.Context, o statement.ExtractionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open usage file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat usage file: %w", err)
	}

	rows := []OutcomeRow{NewOutcomeRow(o)}
	if info.Size() == 0 {
		err = gocsv.Marshal(rows, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, f)
	}
	if err != nil {
		return fmt.Errorf("failed to write usage row: %w", err)
	}
	return nil
}
