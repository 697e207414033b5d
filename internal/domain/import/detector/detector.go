// Package detector obtains a format specification for tabular statement text
// from the understanding service, completes it with locally sniffed values
// and caches it by header fingerprint.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/sniffer"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Config tunes detection.
type Config struct {
	SampleLines int           // lines sent to the service
	CacheTTL    time.Duration // 0 disables caching
}

// Result is a detected specification with the consumption it cost.
type Result struct {
	Spec   *statement.FormatSpecification
	Usage  statement.Usage
	Cached bool
	// Key is the cache key of the layout, empty when the document has no
	// recognizable header.
	Key string
}

// Detector is safe for concurrent use.
type Detector struct {
	client understanding.Client
	cache  *cache.Cache
	cfg    Config
	logger *slog.Logger
}

// New creates a Detector. specs may be nil, in which case nothing is cached.
func New(client understanding.Client, specs *cache.Cache, cfg Config, logger *slog.Logger) *Detector {
	if cfg.SampleLines <= 0 {
		cfg.SampleLines = 50
	}
	if cfg.CacheTTL <= 0 {
		specs = nil
	}
	return &Detector{
		client: client,
		cache:  specs,
		cfg:    cfg,
		logger: logger,
	}
}

// Detect returns a specification validated against lines. Every failure is a
// *statement.DetectionFailure; a failed service call is kept as its cause.
func (d *Detector) Detect(ctx context.Context, lines []string) (*Result, error) {
	if len(lines) == 0 {
		return nil, &statement.DetectionFailure{Reason: "document has no lines"}
	}

	sniffed, err := sniffer.Sniff(lines)
	if err != nil {
		d.logger.Debug("sniffer found no header", "error", err)
		sniffed = nil
	}

	key := cacheKey(sniffed)
	if spec, ok := d.cached(key); ok {
		if err := spec.Validate(len(lines)); err == nil {
			d.logger.Debug("format specification served from cache", "fingerprint", sniffed.Fingerprint)
			return &Result{Spec: spec, Cached: true, Key: key}, nil
		}
	}

	n := min(d.cfg.SampleLines, len(lines))
	spec, usage, err := d.client.DetectFormat(ctx, strings.Join(lines[:n], "\n"))
	if err != nil {
		return &Result{Usage: usage}, asDetectionFailure(err)
	}
	if spec == nil {
		return &Result{Usage: usage}, &statement.DetectionFailure{Reason: "service returned no specification"}
	}

	complete(spec, sniffed, lines)
	if err := spec.Validate(len(lines)); err != nil {
		return &Result{Usage: usage}, &statement.DetectionFailure{Reason: "specification does not fit the document", Err: err}
	}

	if key != "" && d.cache != nil {
		d.cache.Set(key, clone(spec), cache.DefaultExpiration)
	}
	d.logger.Info("format specification detected",
		"header_row", spec.HeaderRow,
		"data_start_row", spec.DataStartRow,
		"delimiter", string(spec.Delimiter),
		"sign", spec.Sign,
		"date_pattern", spec.DatePattern,
	)
	return &Result{Spec: spec, Usage: usage, Key: key}, nil
}

// Forget evicts a cached specification, so the next document with the same
// layout is detected again.
func (d *Detector) Forget(key string) {
	if key == "" || d.cache == nil {
		return
	}
	d.cache.Delete(key)
	d.logger.Debug("format specification evicted", "key", key)
}

func (d *Detector) cached(key string) (*statement.FormatSpecification, bool) {
	if key == "" || d.cache == nil {
		return nil, false
	}
	v, found := d.cache.Get(key)
	if !found {
		return nil, false
	}
	spec, ok := v.(*statement.FormatSpecification)
	if !ok {
		return nil, false
	}
	return clone(spec), true
}

// cacheKey identifies a layout by header fingerprint, header offset and
// delimiter. Documents without a recognizable header are not cached.
func cacheKey(sniffed *sniffer.Layout) string {
	if sniffed == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%q", sniffed.Fingerprint, sniffed.HeaderRow, sniffed.Delimiter)
}

// complete fills values the service left empty from what the sniffer can
// read off the document itself.
func complete(spec *statement.FormatSpecification, sniffed *sniffer.Layout, lines []string) {
	if spec.Delimiter == 0 {
		switch {
		case sniffed != nil:
			spec.Delimiter = sniffed.Delimiter
		case spec.HeaderRow >= 0 && spec.HeaderRow < len(lines):
			spec.Delimiter = sniffer.DetectDelimiter(lines[spec.HeaderRow])
		}
	}
	if spec.Delimiter == 0 {
		return
	}

	cols := &spec.Columns
	if cols.Date < 0 && len(cols.Description) == 0 && spec.HeaderRow >= 0 && spec.HeaderRow < len(lines) {
		if headers, err := sniffer.SplitRecord(lines[spec.HeaderRow], spec.Delimiter); err == nil {
			*cols = sniffer.SuggestColumns(headers)
		}
	}

	if spec.Numbers.DecimalSeparator != "" && spec.DatePattern != "" && spec.Metadata.Currency != "" {
		return
	}

	amountIdx := cols.Amount
	if amountIdx < 0 {
		amountIdx = max(cols.Debit, cols.Credit)
	}
	dialect := sniffer.ProbeDialect(dataRows(lines, spec, 50), amountIdx, cols.Date)
	if spec.Numbers.DecimalSeparator == "" {
		spec.Numbers = dialect.Numbers
	}
	if spec.DatePattern == "" {
		spec.DatePattern = dialect.DatePattern
	}
	if spec.Metadata.Currency == "" {
		spec.Metadata.Currency = dialect.CurrencyHint
	}
}

func dataRows(lines []string, spec *statement.FormatSpecification, limit int) [][]string {
	var rows [][]string
	for i := max(spec.DataStartRow, 0); i < len(lines) && len(rows) < limit; i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if record, err := sniffer.SplitRecord(lines[i], spec.Delimiter); err == nil {
			rows = append(rows, record)
		}
	}
	return rows
}

func clone(spec *statement.FormatSpecification) *statement.FormatSpecification {
	c := *spec
	c.Columns.Description = append([]int(nil), spec.Columns.Description...)
	return &c
}

func asDetectionFailure(err error) error {
	var df *statement.DetectionFailure
	if errors.As(err, &df) {
		return err
	}
	return &statement.DetectionFailure{Reason: "service call failed", Err: err}
}
