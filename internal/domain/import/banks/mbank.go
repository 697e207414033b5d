package banks

import (
	"strings"
	"unicode"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

const mbankMinRows = 10

var mbankColumns = []string{"#Data operacji", "#Opis operacji", "#Rachunek", "#Kategoria", "#Kwota"}

// MBank reads the semicolon separated mBank export: a block of "#Label"
// rows each followed by its value row, then the operations table.
type MBank struct{}

func (MBank) Name() string { return "mBank" }

func (MBank) Parse(lines []string) (*statement.Extraction, error) {
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, ";")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	if len(rows) < mbankMinRows {
		return nil, &statement.ValidationError{Reason: "mbank export appears to be incomplete"}
	}

	ext := &statement.Extraction{}
	md := &ext.Metadata

	if holder := valueAfter(rows, "#Klient"); holder == nil || holder[0] == "" {
		return nil, &statement.ValidationError{Field: "client", Reason: "mbank export: client section not found"}
	}

	period := valueAfter(rows, "#Za okres:")
	if len(period) < 2 {
		return nil, &statement.ValidationError{Field: "period", Reason: "mbank export: period section not found"}
	}
	var err error
	if md.StartDate, err = isoDate(period[0], "DD.MM.YYYY"); err != nil {
		return nil, invalid("mbank", 0, "start_date", period[0], err)
	}
	if md.EndDate, err = isoDate(period[1], "DD.MM.YYYY"); err != nil {
		return nil, invalid("mbank", 0, "end_date", period[1], err)
	}

	if md.AccountNumber = mbankAccount(rows); md.AccountNumber == "" {
		return nil, &statement.ValidationError{Field: "account", Reason: "mbank export: account number not found"}
	}

	start := mbankTable(rows)
	if start < 0 {
		return nil, &statement.ValidationError{Field: "operations", Reason: "mbank export: operations table not found"}
	}

	for i, row := range rows[start+1:] {
		if len(row) < len(mbankColumns) || row[0] == "" || strings.HasPrefix(row[0], "#") {
			continue
		}
		entry := i + 1

		date, err := isoDate(row[0], "YYYY-MM-DD")
		if err != nil {
			return nil, invalid("mbank", entry, "date", row[0], err)
		}
		value, currency := splitCurrency(row[4])
		amt, err := amount(value)
		if err != nil {
			return nil, invalid("mbank", entry, "amount", row[4], err)
		}
		if md.Currency == "" && currency != "" {
			md.Currency = currency
		}

		ext.Transactions = append(ext.Transactions, statement.RawTransaction{
			Date:        date,
			Amount:      amt,
			Description: strings.TrimSpace(strings.Trim(row[1], `"`)),
		})
	}
	if md.Currency == "" {
		md.Currency = "PLN"
	}
	return ext, nil
}

// valueAfter returns the row following the first row labelled label.
func valueAfter(rows [][]string, label string) []string {
	for i, row := range rows {
		if row[0] == label && i+1 < len(rows) {
			return rows[i+1]
		}
	}
	return nil
}

// mbankAccount finds the "<product> - <account number>" cell, such as
// "eKonto - 12 3456 ...".
func mbankAccount(rows [][]string) string {
	for _, row := range rows {
		for _, cell := range row {
			_, number, ok := strings.Cut(cell, " - ")
			if !ok {
				continue
			}
			digits := strings.ReplaceAll(number, " ", "")
			if len(digits) >= 20 && strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
				return digits
			}
		}
	}
	return ""
}

func mbankTable(rows [][]string) int {
	for i, row := range rows {
		if len(row) < len(mbankColumns) {
			continue
		}
		match := true
		for j, col := range mbankColumns {
			if row[j] != col {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// splitCurrency separates a trailing currency code: "-12,50 PLN".
func splitCurrency(s string) (value, currency string) {
	s = strings.TrimSpace(s)
	end := len(s)
	for end > 0 && unicode.IsLetter(rune(s[end-1])) {
		end--
	}
	if code := s[end:]; len(code) == 3 {
		return strings.TrimSpace(s[:end]), strings.ToUpper(code)
	}
	return s, ""
}
