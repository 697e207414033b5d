// Package normalizer turns a strategy's raw extraction into a validated
// ledger: typed dates and amounts, derived transaction kinds, completed
// statement metadata and a balance check.
package normalizer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/money"
)

const isoDate = "2006-01-02"

// Config holds normalization defaults
type Config struct {
	DefaultCurrency string
}

// Options carry per-request overrides
type Options struct {
	// AccountNumber replaces whatever account the extraction found.
	AccountNumber string
}

// Normalizer is stateless apart from its classifier and safe for concurrent use.
type Normalizer struct {
	cfg        Config
	classifier *KindClassifier
	logger     *slog.Logger
}

// New creates a Normalizer
func New(cfg Config, classifier *KindClassifier, logger *slog.Logger) *Normalizer {
	if code, ok := money.NormalizeCurrency(cfg.DefaultCurrency); ok {
		cfg.DefaultCurrency = code
	} else {
		cfg.DefaultCurrency = money.PLN
	}
	if classifier == nil {
		classifier = NewKindClassifier()
	}
	return &Normalizer{cfg: cfg, classifier: classifier, logger: logger}
}

// Normalize validates ext and builds the ledger. Every record with an
// unparseable date or amount is reported; the returned error then combines
// one *statement.ValidationError per record. An extraction without
// transactions is a *statement.EmptyStatementError.
func (n *Normalizer) Normalize(ext *statement.Extraction, opts Options) (*statement.Ledger, error) {
	if ext == nil || len(ext.Transactions) == 0 {
		return nil, &statement.EmptyStatementError{}
	}

	ledger := &statement.Ledger{
		Transactions: make([]statement.Transaction, 0, len(ext.Transactions)),
		Warnings:     append([]string(nil), ext.Warnings...),
	}

	var errs error
	for i, raw := range ext.Transactions {
		tx, err := n.transaction(i+1, raw, ledger)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ledger.Transactions = append(ledger.Transactions, tx)
	}
	if errs != nil {
		return nil, errs
	}

	ledger.Metadata = n.metadata(ext.Metadata, ledger, opts)
	ledger.Balance = checkBalance(ledger)
	if ledger.Balance != nil && !ledger.Balance.OK {
		msg := fmt.Sprintf("closing balance %s minus opening balance %s is %s but transactions sum to %s",
			money.FormatPlain(ledger.Metadata.ClosingBalance),
			money.FormatPlain(ledger.Metadata.OpeningBalance),
			money.FormatPlain(ledger.Balance.Expected),
			money.FormatPlain(ledger.Balance.Actual))
		ledger.Warnings = append(ledger.Warnings, msg)
		n.logger.Warn("balance mismatch",
			"expected", ledger.Balance.Expected.String(),
			"actual", ledger.Balance.Actual.String(),
			"difference", ledger.Balance.Difference.String(),
		)
	}
	return ledger, nil
}

func (n *Normalizer) transaction(row int, raw statement.RawTransaction, ledger *statement.Ledger) (statement.Transaction, error) {
	var errs error

	date, err := time.Parse(isoDate, strings.TrimSpace(raw.Date))
	if err != nil {
		errs = multierr.Append(errs, &statement.ValidationError{Field: "date", Row: row, Value: raw.Date, Reason: "not an ISO date"})
	}
	amount, err := parseDecimal(raw.Amount)
	if err != nil {
		errs = multierr.Append(errs, &statement.ValidationError{Field: "amount", Row: row, Value: raw.Amount, Reason: "not a decimal amount"})
	}
	if errs != nil {
		return statement.Transaction{}, errs
	}

	description := cleanDescription(raw.Description)
	tx := statement.Transaction{
		ValueDate:   date,
		Amount:      amount,
		Description: description,
		Kind:        n.classifier.Classify(description, amount, statement.ParseKind(raw.Type)),
		Reference:   strings.TrimSpace(raw.Reference),
	}

	if strings.TrimSpace(raw.Balance) != "" {
		if bal, err := parseDecimal(raw.Balance); err == nil {
			tx.Balance = &bal
		} else {
			ledger.Warnings = append(ledger.Warnings, fmt.Sprintf("record %d: running balance %q ignored", row, raw.Balance))
		}
	}
	return tx, nil
}

// metadata completes the statement metadata. Unusable values fall back to
// what the transactions imply and are reported as warnings.
func (n *Normalizer) metadata(raw statement.RawMetadata, ledger *statement.Ledger, opts Options) statement.Metadata {
	txs := ledger.Transactions
	warn := func(format string, args ...any) {
		ledger.Warnings = append(ledger.Warnings, fmt.Sprintf(format, args...))
	}

	m := statement.Metadata{
		AccountID: strings.Join(strings.Fields(raw.AccountNumber), ""),
		Currency:  n.cfg.DefaultCurrency,
	}
	if override := strings.Join(strings.Fields(opts.AccountNumber), ""); override != "" {
		m.AccountID = override
	}

	if raw.Currency != "" {
		if code, ok := money.NormalizeCurrency(raw.Currency); ok {
			m.Currency = code
		} else {
			warn("unknown currency %q, using %s", raw.Currency, m.Currency)
		}
	}

	first, last := txs[0].ValueDate, txs[0].ValueDate
	for _, tx := range txs[1:] {
		if tx.ValueDate.Before(first) {
			first = tx.ValueDate
		}
		if tx.ValueDate.After(last) {
			last = tx.ValueDate
		}
	}
	m.StartDate = parseDateOr(raw.StartDate, first, "statement start date", warn)
	m.EndDate = parseDateOr(raw.EndDate, last, "statement end date", warn)

	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}

	opening, ok := parseBalance(raw.OpeningBalance, "opening balance", warn)
	if !ok {
		opening = decimal.Zero
		if bal := txs[0].Balance; bal != nil {
			opening = bal.Sub(txs[0].Amount)
		}
	}
	m.OpeningBalance = money.Round(opening)

	if closing, ok := parseBalance(raw.ClosingBalance, "closing balance", warn); ok {
		m.ClosingBalance = money.Round(closing)
	} else {
		m.ClosingBalance = money.Round(m.OpeningBalance.Add(sum))
		m.ClosingComputed = true
	}
	return m
}

// checkBalance compares closing-opening with the transaction sum.
func checkBalance(ledger *statement.Ledger) *statement.BalanceCheck {
	sum := decimal.Zero
	for _, tx := range ledger.Transactions {
		sum = sum.Add(tx.Amount)
	}
	expected := ledger.Metadata.ClosingBalance.Sub(ledger.Metadata.OpeningBalance)
	return &statement.BalanceCheck{
		Expected:   expected,
		Actual:     money.Round(sum),
		Difference: money.Round(expected.Sub(sum)),
		OK:         money.WithinTolerance(expected, sum),
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	return money.Round(d), nil
}

func parseBalance(s, field string, warn func(string, ...any)) (decimal.Decimal, bool) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, false
	}
	d, err := parseDecimal(s)
	if err != nil {
		warn("%s %q ignored", field, s)
		return decimal.Zero, false
	}
	return d, true
}

func parseDateOr(s string, fallback time.Time, field string, warn func(string, ...any)) time.Time {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	t, err := time.Parse(isoDate, strings.TrimSpace(s))
	if err != nil {
		warn("%s %q ignored", field, s)
		return fallback
	}
	return t
}
