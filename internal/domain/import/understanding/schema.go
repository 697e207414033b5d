package understanding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// formatResponse is the only shape accepted from detect_format.
type formatResponse struct {
	Detected           *bool           `json:"detected"`
	Reason             string          `json:"reason"`
	HeaderRow          *int            `json:"header_row"`
	DataStartRow       *int            `json:"data_start_row"`
	Delimiter          *string         `json:"delimiter"`
	QuoteChar          *string         `json:"quote_char"`
	Columns            *columnsPayload `json:"columns"`
	DatePattern        *string         `json:"date_pattern"`
	DecimalSeparator   *string         `json:"decimal_separator"`
	ThousandsSeparator *string         `json:"thousands_separator"`
	SignConvention     *string         `json:"sign_convention"`
	Metadata           *hintsPayload   `json:"metadata"`
}

type columnsPayload struct {
	Date        *int  `json:"date"`
	Amount      *int  `json:"amount"`
	Debit       *int  `json:"debit"`
	Credit      *int  `json:"credit"`
	Description []int `json:"description"`
	Balance     *int  `json:"balance"`
	Reference   *int  `json:"reference"`
	Currency    *int  `json:"currency"`
}

type hintsPayload struct {
	AccountNumber  *string `json:"account_number"`
	Currency       *string `json:"currency"`
	OpeningBalance *string `json:"opening_balance"`
	ClosingBalance *string `json:"closing_balance"`
	StartDate      *string `json:"start_date"`
	EndDate        *string `json:"end_date"`
}

// extractionResponse is the only shape accepted from extract_transactions.
type extractionResponse struct {
	Metadata     *metadataPayload     `json:"metadata"`
	Transactions []transactionPayload `json:"transactions"`
}

type metadataPayload struct {
	AccountNumber  *string      `json:"account_number"`
	Currency       *string      `json:"currency"`
	StartDate      *string      `json:"statement_start_date"`
	EndDate        *string      `json:"statement_end_date"`
	OpeningBalance *json.Number `json:"opening_balance"`
	ClosingBalance *json.Number `json:"closing_balance"`
}

// Amounts accept a JSON number or a numeric string; json.Number rejects
// anything else.
type transactionPayload struct {
	Date        *string      `json:"date"`
	Amount      *json.Number `json:"amount"`
	Description *string      `json:"description"`
	Type        *string      `json:"type"`
	Reference   *string      `json:"reference"`
	Balance     *json.Number `json:"balance"`
}

// cleanModelJSON strips Markdown fences and any prose around the top-level
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

// decodeStrict decodes exactly one JSON value into v, rejecting unknown
// fields and trailing data.
func decodeStrict(raw string, v any) error {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return &statement.ValidationError{Field: "response", Reason: "empty response"}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &statement.ValidationError{Field: "response", Reason: fmt.Sprintf("malformed response: %v", err)}
	}
	if dec.More() {
		return &statement.ValidationError{Field: "response", Reason: "trailing data after response object"}
	}
	return nil
}

// decodeFormatSpecification validates a detect_format response. A response
// declaring detected=false is a DetectionFailure.
func decodeFormatSpecification(raw string) (*statement.FormatSpecification, error) {
	var resp formatResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return nil, err
	}

	if resp.Detected == nil {
		return nil, missing("detected")
	}
	if !*resp.Detected {
		reason := resp.Reason
		if reason == "" {
			reason = "service reported no recognizable layout"
		}
		return nil, &statement.DetectionFailure{Reason: reason}
	}

	switch {
	case resp.DataStartRow == nil:
		return nil, missing("data_start_row")
	case resp.Columns == nil:
		return nil, missing("columns")
	case resp.DatePattern == nil:
		return nil, missing("date_pattern")
	case resp.SignConvention == nil:
		return nil, missing("sign_convention")
	}

	spec := &statement.FormatSpecification{
		HeaderRow:    -1,
		DataStartRow: *resp.DataStartRow,
		DatePattern:  strings.TrimSpace(*resp.DatePattern),
		Columns:      resp.Columns.toColumns(),
	}
	if resp.HeaderRow != nil {
		spec.HeaderRow = *resp.HeaderRow
	}

	var err error
	if spec.Delimiter, err = singleRune("delimiter", resp.Delimiter); err != nil {
		return nil, err
	}
	if spec.QuoteChar, err = singleRune("quote_char", resp.QuoteChar); err != nil {
		return nil, err
	}

	switch sign := statement.SignConvention(strings.ToLower(strings.TrimSpace(*resp.SignConvention))); sign {
	case statement.SignSigned, statement.SignDebitCredit:
		spec.Sign = sign
	default:
		return nil, &statement.ValidationError{Field: "sign_convention", Value: *resp.SignConvention, Reason: "unknown sign convention"}
	}

	spec.Numbers = statement.NumberConvention{
		DecimalSeparator:   deref(resp.DecimalSeparator),
		ThousandsSeparator: deref(resp.ThousandsSeparator),
	}
	if resp.Metadata != nil {
		spec.Metadata = statement.MetadataHints{
			AccountNumber:  deref(resp.Metadata.AccountNumber),
			Currency:       deref(resp.Metadata.Currency),
			OpeningBalance: deref(resp.Metadata.OpeningBalance),
			ClosingBalance: deref(resp.Metadata.ClosingBalance),
			StartDate:      deref(resp.Metadata.StartDate),
			EndDate:        deref(resp.Metadata.EndDate),
		}
	}
	return spec, nil
}

// decodeExtraction validates an extract_transactions response. Values are
// kept as text; the normalizer parses them.
func decodeExtraction(raw string) (*statement.Extraction, error) {
	var resp extractionResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Transactions == nil {
		return nil, missing("transactions")
	}

	ext := &statement.Extraction{
		Transactions: make([]statement.RawTransaction, 0, len(resp.Transactions)),
	}
	for i, tx := range resp.Transactions {
		row := i + 1
		switch {
		case tx.Date == nil || strings.TrimSpace(*tx.Date) == "":
			return nil, &statement.ValidationError{Field: "date", Row: row, Reason: "missing required field"}
		case tx.Amount == nil || *tx.Amount == "":
			return nil, &statement.ValidationError{Field: "amount", Row: row, Reason: "missing required field"}
		case tx.Description == nil:
			return nil, &statement.ValidationError{Field: "description", Row: row, Reason: "missing required field"}
		}
		ext.Transactions = append(ext.Transactions, statement.RawTransaction{
			Date:        strings.TrimSpace(*tx.Date),
			Amount:      tx.Amount.String(),
			Description: *tx.Description,
			Type:        deref(tx.Type),
			Reference:   deref(tx.Reference),
			Balance:     numberString(tx.Balance),
		})
	}

	if m := resp.Metadata; m != nil {
		ext.Metadata = statement.RawMetadata{
			AccountNumber:  strings.Join(strings.Fields(deref(m.AccountNumber)), ""),
			Currency:       deref(m.Currency),
			StartDate:      deref(m.StartDate),
			EndDate:        deref(m.EndDate),
			OpeningBalance: numberString(m.OpeningBalance),
			ClosingBalance: numberString(m.ClosingBalance),
		}
	}
	return ext, nil
}

func (c *columnsPayload) toColumns() statement.Columns {
	cols := statement.NoColumns()
	set := func(dst *int, src *int) {
		if src != nil && *src >= 0 {
			*dst = *src
		}
	}
	set(&cols.Date, c.Date)
	set(&cols.Amount, c.Amount)
	set(&cols.Debit, c.Debit)
	set(&cols.Credit, c.Credit)
	set(&cols.Balance, c.Balance)
	set(&cols.Reference, c.Reference)
	set(&cols.Currency, c.Currency)
	for _, idx := range c.Description {
		if idx >= 0 {
			cols.Description = append(cols.Description, idx)
		}
	}
	return cols
}

// singleRune reads a one-character field. "tab" and "\t" both mean a tab.
// A null or empty value yields 0.
func singleRune(field string, s *string) (rune, error) {
	if s == nil || *s == "" {
		return 0, nil
	}
	v := *s
	switch strings.ToLower(v) {
	case "tab", `\t`:
		return '\t', nil
	case "space":
		return ' ', nil
	}
	if utf8.RuneCountInString(v) != 1 {
		return 0, &statement.ValidationError{Field: field, Value: v, Reason: "expected a single character"}
	}
	r, _ := utf8.DecodeRuneInString(v)
	return r, nil
}

func missing(field string) error {
	return &statement.ValidationError{Field: field, Reason: "missing required field"}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func numberString(n *json.Number) string {
	if n == nil {
		return ""
	}
	return n.String()
}
