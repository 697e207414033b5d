// Package parser applies a detected format specification to delimited text.
// Parsing is deterministic: the same lines and specification always give the
// same transactions.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/sniffer"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/money"
)

// ErrInvalidSpecification means the specification does not fit the document.
var ErrInvalidSpecification = errors.New("format specification does not fit the document")

// maxReportedErrors caps the parse errors copied into extraction warnings.
const maxReportedErrors = 5

// ParseError represents a parsing error for a specific row
type ParseError struct {
	Row     int // 1-based line number, 0 for metadata
	Column  string
	Message string
	RawData string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// ParseResult contains the results of applying a specification
type ParseResult struct {
	Transactions []statement.RawTransaction
	Metadata     statement.RawMetadata
	Errors       []ParseError
	TotalRows    int
	ParsedRows   int
	SkippedRows  int
}

// Extraction converts the result into the pipeline's extraction shape. Row
// errors become warnings.
func (r *ParseResult) Extraction() statement.Extraction {
	ext := statement.Extraction{
		Transactions: r.Transactions,
		Metadata:     r.Metadata,
	}
	if len(r.Errors) > 0 {
		ext.Warnings = append(ext.Warnings, fmt.Sprintf("%d of %d rows could not be parsed", len(r.Errors), r.TotalRows))
		for i, e := range r.Errors {
			if i == maxReportedErrors {
				break
			}
			ext.Warnings = append(ext.Warnings, e.Error())
		}
	}
	return ext
}

// Parse applies spec to lines. Rows before DataStartRow are ignored. Rows
// whose date cell is empty are skipped; rows whose date or amount cannot be
// read are reported in Errors. Zero transactions is a valid result.
func Parse(lines []string, spec *statement.FormatSpecification) (*ParseResult, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: no specification", ErrInvalidSpecification)
	}
	if err := spec.Validate(len(lines)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpecification, err)
	}

	result := &ParseResult{
		Transactions: make([]statement.RawTransaction, 0, len(lines)-spec.DataStartRow),
		Errors:       make([]ParseError, 0),
	}

	for i := spec.DataStartRow; i < len(lines); i++ {
		// Leading delimiters are empty cells, so only the line ending goes.
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rowNum := i + 1

		record, err := splitLine(line, spec)
		if err != nil {
			result.Errors = append(result.Errors, ParseError{Row: rowNum, Message: err.Error(), RawData: line})
			continue
		}

		result.TotalRows++

		tx, currency, parseErr := processRecord(record, rowNum, spec)
		if parseErr != nil {
			result.Errors = append(result.Errors, *parseErr)
			continue
		}
		if tx == nil {
			result.SkippedRows++
			continue
		}

		if result.Metadata.Currency == "" && currency != "" {
			result.Metadata.Currency = currency
		}
		result.Transactions = append(result.Transactions, *tx)
		result.ParsedRows++
	}

	applyMetadataHints(result, spec)
	return result, nil
}

func splitLine(line string, spec *statement.FormatSpecification) ([]string, error) {
	if q := spec.QuoteChar; q != 0 && q != '"' {
		line = strings.ReplaceAll(line, string(q), `"`)
	}
	return sniffer.SplitRecord(line, spec.Delimiter)
}

// processRecord converts one record using the column indices of spec. It
// returns nil without an error for rows that carry no date, such as footers.
func processRecord(record []string, rowNum int, spec *statement.FormatSpecification) (*statement.RawTransaction, string, *ParseError) {
	getValue := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	cols := spec.Columns

	dateStr := getValue(cols.Date)
	if dateStr == "" {
		return nil, "", nil
	}
	date, err := ParseDate(dateStr, spec.DatePattern)
	if err != nil {
		return nil, "", &ParseError{
			Row:     rowNum,
			Column:  "date",
			Message: fmt.Sprintf("invalid date: %s", err.Error()),
			RawData: dateStr,
		}
	}

	var amount string
	switch spec.Sign {
	case statement.SignDebitCredit:
		debitStr, creditStr := numericOrEmpty(getValue(cols.Debit)), numericOrEmpty(getValue(cols.Credit))
		if debitStr == "" && creditStr == "" {
			return nil, "", &ParseError{Row: rowNum, Column: "amount", Message: "no debit or credit amount"}
		}
		total, perr := parseDebitCredit(debitStr, creditStr, spec.Numbers)
		if perr != nil {
			return nil, "", &ParseError{Row: rowNum, Column: "amount", Message: perr.Error(), RawData: debitStr + "|" + creditStr}
		}
		amount = total
	default:
		amountStr := getValue(cols.Amount)
		if amountStr == "" {
			return nil, "", &ParseError{Row: rowNum, Column: "amount", Message: "missing amount"}
		}
		d, perr := ParseAmount(amountStr, spec.Numbers)
		if perr != nil {
			return nil, "", &ParseError{
				Row:     rowNum,
				Column:  "amount",
				Message: fmt.Sprintf("invalid amount: %s", perr.Error()),
				RawData: amountStr,
			}
		}
		amount = money.FormatPlain(d)
	}

	var parts []string
	for _, idx := range cols.Description {
		if v := getValue(idx); v != "" {
			parts = append(parts, v)
		}
	}

	tx := &statement.RawTransaction{
		Date:        date.Format(ISODate),
		Amount:      amount,
		Description: cleanDescription(strings.Join(parts, " ")),
		Reference:   getValue(cols.Reference),
	}
	if balStr := getValue(cols.Balance); balStr != "" {
		if bal, err := ParseAmount(balStr, spec.Numbers); err == nil {
			tx.Balance = money.FormatPlain(bal)
		}
	}

	currency := ""
	if code, ok := money.NormalizeCurrency(getValue(cols.Currency)); ok {
		currency = code
	}
	return tx, currency, nil
}

// parseDebitCredit handles separate debit and credit columns. Debits are
// money out whatever their printed sign, credits money in.
func parseDebitCredit(debitStr, creditStr string, conv statement.NumberConvention) (string, error) {
	total := decimal.Zero
	if debitStr != "" {
		d, err := ParseAmount(debitStr, conv)
		if err != nil {
			return "", fmt.Errorf("invalid debit: %w", err)
		}
		total = total.Sub(d.Abs())
	}
	if creditStr != "" {
		c, err := ParseAmount(creditStr, conv)
		if err != nil {
			return "", fmt.Errorf("invalid credit: %w", err)
		}
		total = total.Add(c.Abs())
	}
	return money.FormatPlain(total), nil
}

// applyMetadataHints parses the statement-level values the specification
// carries with the same conventions as the rows.
func applyMetadataHints(result *ParseResult, spec *statement.FormatSpecification) {
	hints := spec.Metadata
	meta := &result.Metadata

	meta.AccountNumber = strings.TrimSpace(hints.AccountNumber)
	if code, ok := money.NormalizeCurrency(hints.Currency); ok {
		meta.Currency = code
	}

	amount := func(field, value string) string {
		if strings.TrimSpace(value) == "" {
			return ""
		}
		d, err := ParseAmount(value, spec.Numbers)
		if err != nil {
			result.Errors = append(result.Errors, ParseError{Column: field, Message: err.Error(), RawData: value})
			return ""
		}
		return money.FormatPlain(d)
	}
	date := func(field, value string) string {
		if strings.TrimSpace(value) == "" {
			return ""
		}
		t, err := ParseDate(value, spec.DatePattern)
		if err != nil {
			// Statement dates are often printed in ISO even when rows are not.
			if t, err = ParseDate(value, ""); err != nil {
				result.Errors = append(result.Errors, ParseError{Column: field, Message: err.Error(), RawData: value})
				return ""
			}
		}
		return t.Format(ISODate)
	}

	meta.OpeningBalance = amount("opening_balance", hints.OpeningBalance)
	meta.ClosingBalance = amount("closing_balance", hints.ClosingBalance)
	meta.StartDate = date("start_date", hints.StartDate)
	meta.EndDate = date("end_date", hints.EndDate)
}

// numericOrEmpty blanks placeholder cells such as "-" that carry no digits.
func numericOrEmpty(s string) string {
	if strings.IndexFunc(s, unicode.IsDigit) < 0 {
		return ""
	}
	return s
}

// cleanDescription normalizes a transaction description
func cleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
