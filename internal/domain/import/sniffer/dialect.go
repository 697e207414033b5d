package sniffer

import (
	"strings"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/money"
)

// RegionalDialect is the inferred regional formatting of amounts and dates
type RegionalDialect struct {
	Numbers      statement.NumberConvention
	DatePattern  string  // e.g. "DD.MM.YYYY", empty when no date could be read
	CurrencyHint string  // ISO code when a symbol or code was seen
	Confidence   float64 // share of amount samples agreeing with the winning convention
}

// ProbeDialect analyzes sample rows to infer number and date conventions.
// amountIdx and dateIdx may be -1.
func ProbeDialect(rows [][]string, amountIdx, dateIdx int) *RegionalDialect {
	dialect := &RegionalDialect{
		Numbers:    statement.NumberConvention{DecimalSeparator: ".", ThousandsSeparator: ","},
		Confidence: 0.5,
	}

	var amounts, dates []string
	for _, row := range rows {
		if amountIdx >= 0 && amountIdx < len(row) && strings.TrimSpace(row[amountIdx]) != "" {
			amounts = append(amounts, row[amountIdx])
		}
		if dateIdx >= 0 && dateIdx < len(row) && strings.TrimSpace(row[dateIdx]) != "" {
			dates = append(dates, strings.TrimSpace(row[dateIdx]))
		}
		if dialect.CurrencyHint == "" {
			for _, cell := range row {
				if code, ok := money.CurrencyFromSymbol(cell); ok {
					dialect.CurrencyHint = code
					break
				}
				if code, ok := money.NormalizeCurrency(cell); ok {
					dialect.CurrencyHint = code
					break
				}
			}
		}
	}

	if conv, ok := money.InferConvention(amounts); ok {
		dialect.Numbers = statement.NumberConvention{DecimalSeparator: conv.Decimal, ThousandsSeparator: conv.Thousands}
		agree := 0
		for _, a := range amounts {
			if _, err := money.Parse(a, conv); err == nil {
				agree++
			}
		}
		if len(amounts) > 0 {
			dialect.Confidence = float64(agree) / float64(len(amounts))
		}
	}

	dialect.DatePattern = probeDatePattern(dates, dialect.Numbers.DecimalSeparator == ",")
	return dialect
}

// probeDatePattern guesses a token pattern such as "DD.MM.YYYY" from samples.
// A day above 12 in the first position settles DD/MM vs MM/DD; otherwise
// European number formatting tips it towards day first.
func probeDatePattern(samples []string, european bool) string {
	if len(samples) == 0 {
		return ""
	}

	var sep string
	yearFirst, dayFirst, monthFirst := false, false, false
	for _, s := range samples {
		if i := strings.IndexAny(s, " T"); i > 0 {
			s = s[:i]
		}
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
		if len(parts) != 3 {
			continue
		}
		if sep == "" {
			sep = string(s[len(parts[0])])
		}
		if len(parts[0]) == 4 {
			yearFirst = true
			continue
		}
		first, second := atoi(parts[0]), atoi(parts[1])
		switch {
		case first > 12 && first <= 31:
			dayFirst = true
		case second > 12 && second <= 31:
			monthFirst = true
		}
	}
	if sep == "" {
		return ""
	}

	if yearFirst {
		return "YYYY" + sep + "MM" + sep + "DD"
	}
	if monthFirst && !dayFirst {
		return "MM" + sep + "DD" + sep + "YYYY"
	}
	if dayFirst || european || sep == "." {
		return "DD" + sep + "MM" + sep + "YYYY"
	}
	return "MM" + sep + "DD" + sep + "YYYY"
}

func atoi(s string) int {
	n := 0
	for _, c := range strings.TrimSpace(s) {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// SuggestColumns matches header names to field roles. Columns that cannot be
// matched stay -1.
func SuggestColumns(headers []string) statement.Columns {
	cols := statement.NoColumns()

	for i, header := range headers {
		h := strings.ToLower(strings.TrimSpace(header))
		switch {
		case cols.Date == -1 && (h == "data" || containsAny(h, "date", "data operacji", "data transakcji",
			"data księgowania", "data ksiegowania", "buchungstag", "fecha", "data mov")):
			cols.Date = i
		case cols.Balance == -1 && containsAny(h, "balance", "saldo", "kontostand"):
			cols.Balance = i
		case cols.Debit == -1 && containsAny(h, "debit", "obciążenia", "obciazenia", "wypływ", "soll", "débito", "debito", "cargo"):
			cols.Debit = i
		case cols.Credit == -1 && containsAny(h, "credit", "uznania", "wpływ", "haben", "crédito", "credito", "abono"):
			cols.Credit = i
		case cols.Amount == -1 && containsAny(h, "amount", "kwota", "betrag", "importe", "valor", "montante", "umsatz"):
			cols.Amount = i
		case cols.Reference == -1 && containsAny(h, "reference", "referencja", "nr transakcji", "referenz"):
			cols.Reference = i
		case cols.Currency == -1 && containsAny(h, "currency", "waluta", "währung", "moneda"):
			cols.Currency = i
		case containsAny(h, "descri", "opis", "tytuł", "tytul", "kontrahent", "verwendungszweck", "details", "payee", "merchant"):
			cols.Description = append(cols.Description, i)
		}
	}

	return cols
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
