package banks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/sniffer"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

const santanderFields = 8

// Santander reads the comma separated Santander export: one summary row
// followed by one row per entry.
//
//	summary: generated (YYYY-MM-DD), start (DD-MM-YYYY), 'account', holder,
//	         currency, opening, closing, entry count
//	entry:   booked (DD-MM-YYYY), initiated, title, counterparty,
//	         counterparty account, amount, balance, entry number
type Santander struct{}

func (Santander) Name() string { return "Santander" }

func (Santander) Parse(lines []string) (*statement.Extraction, error) {
	rows, err := santanderRows(lines)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, &statement.ValidationError{Reason: "santander export needs a summary row and at least one entry"}
	}

	summary := rows[0]
	if len(summary.fields) < santanderFields {
		return nil, invalid("santander", summary.line, "summary", strings.Join(summary.fields, ","),
			fmt.Errorf("want %d fields, got %d", santanderFields, len(summary.fields)))
	}
	f := summary.fields

	ext := &statement.Extraction{}
	md := &ext.Metadata
	if md.StartDate, err = isoDate(f[1], "DD-MM-YYYY"); err != nil {
		return nil, invalid("santander", summary.line, "start_date", f[1], err)
	}
	md.AccountNumber = strings.Trim(strings.TrimSpace(f[2]), "'")
	md.Currency = strings.TrimSpace(f[4])
	if md.OpeningBalance, err = amount(f[5]); err != nil {
		return nil, invalid("santander", summary.line, "opening_balance", f[5], err)
	}
	if md.ClosingBalance, err = amount(f[6]); err != nil {
		return nil, invalid("santander", summary.line, "closing_balance", f[6], err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(f[7]))
	if err != nil {
		return nil, invalid("santander", summary.line, "entry_count", f[7], err)
	}

	for _, row := range rows[1:] {
		tx, err := santanderEntry(row)
		if err != nil {
			return nil, err
		}
		ext.Transactions = append(ext.Transactions, tx)
	}

	if len(ext.Transactions) != count {
		return nil, &statement.ValidationError{
			Field:  "entry_count",
			Value:  strconv.Itoa(count),
			Reason: fmt.Sprintf("santander export: summary announces %d entries, found %d", count, len(ext.Transactions)),
		}
	}
	return ext, nil
}

func santanderEntry(row record) (statement.RawTransaction, error) {
	f := row.fields
	if len(f) < santanderFields {
		return statement.RawTransaction{}, invalid("santander", row.line, "entry", strings.Join(f, ","),
			fmt.Errorf("want %d fields, got %d", santanderFields, len(f)))
	}

	date, err := isoDate(f[0], "DD-MM-YYYY")
	if err != nil {
		return statement.RawTransaction{}, invalid("santander", row.line, "date", f[0], err)
	}
	amt, err := amount(f[5])
	if err != nil {
		return statement.RawTransaction{}, invalid("santander", row.line, "amount", f[5], err)
	}
	balance, err := amount(f[6])
	if err != nil {
		return statement.RawTransaction{}, invalid("santander", row.line, "balance", f[6], err)
	}

	description := strings.TrimSpace(f[2])
	if party := strings.TrimSpace(f[3]); party != "" {
		description += " " + party
	}
	return statement.RawTransaction{
		Date:        date,
		Amount:      amt,
		Description: description,
		Reference:   strings.TrimSpace(f[7]),
		Balance:     balance,
	}, nil
}

// record is a split line with its 1-based position in the document.
type record struct {
	line   int
	fields []string
}

func santanderRows(lines []string) ([]record, error) {
	var rows []record
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := sniffer.SplitRecord(line, ',')
		if err != nil {
			return nil, invalid("santander", i+1, "row", line, err)
		}
		rows = append(rows, record{line: i + 1, fields: fields})
	}
	return rows, nil
}
