// Package money provides decimal-safe parsing and formatting of statement amounts
// and ISO-4217 currency checks. Amounts are shopspring/decimal values rounded to
// two places; currency metadata comes from go-money.
package money

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	EUR = "EUR" // Euro
	PLN = "PLN" // Polish Zloty
	USD = "USD" // US Dollar
	GBP = "GBP" // British Pound
	CHF = "CHF" // Swiss Franc
)

// Places is the fixed precision of statement amounts.
const Places = 2

// Tolerance is the rounding tolerance used for balance identities.
var Tolerance = decimal.New(1, -Places)

var (
	ErrEmptyAmount   = errors.New("empty amount")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Convention declares the separators of a localized amount. Empty fields mean
// "infer from the value".
type Convention struct {
	Decimal   string
	Thousands string
}

var (
	// European is 1.234,56
	European = Convention{Decimal: ",", Thousands: "."}
	// US is 1,234.56
	US = Convention{Decimal: ".", Thousands: ","}
)

// Parse converts a localized amount string into a decimal rounded to two places.
// It accepts currency symbols and codes, spaces (including NBSP) as grouping,
// a leading or trailing minus, parentheses for negatives and an explicit plus.
func Parse(value string, conv Convention) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	// Drop currency codes/symbols and grouping spaces
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), r == '\'', r == '’':
			return -1
		case unicode.IsLetter(r), unicode.Is(unicode.Sc, r):
			return -1
		case r == '−': // unicode minus
			return '-'
		}
		return r
	}, s)

	negative := false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = strings.Trim(s, "()")
	case strings.HasPrefix(s, "-"):
		negative = true
		s = strings.TrimPrefix(s, "-")
	case strings.HasSuffix(s, "-"):
		negative = true
		s = strings.TrimSuffix(s, "-")
	case strings.HasPrefix(s, "+"):
		s = strings.TrimPrefix(s, "+")
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	dec, thou := conv.Decimal, conv.Thousands
	if dec == "" {
		dec, thou = InferSeparators(s)
	}
	if thou != "" && thou != " " {
		s = strings.ReplaceAll(s, thou, "")
	}
	if dec != "." {
		if strings.Contains(s, ".") {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
		s = strings.ReplaceAll(s, dec, ".")
	}
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, ",+-()") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if negative {
		d = d.Neg()
	}
	return Round(d), nil
}

// InferSeparators guesses the decimal and thousands separators of a single
// unsigned amount. When both ',' and '.' appear, the last one is the decimal mark.
func InferSeparators(s string) (decimalSep, thousandsSep string) {
	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return ",", "."
		}
		return ".", ","
	case hasComma:
		if strings.Count(s, ",") == 1 && len(s)-strings.LastIndex(s, ",")-1 != 3 {
			return ",", ""
		}
		return ".", ","
	case hasDot:
		if strings.Count(s, ".") > 1 {
			return ",", "."
		}
		return ".", ""
	}
	return ".", ""
}

// InferConvention votes over several samples and returns the winning convention.
// ok is false when the samples are ambiguous.
func InferConvention(samples []string) (conv Convention, ok bool) {
	european, us := 0, 0
	for _, raw := range samples {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) || r == ',' || r == '.' {
				return r
			}
			return -1
		}, raw)
		if !strings.ContainsAny(cleaned, ",.") {
			continue
		}
		if dec, _ := InferSeparators(cleaned); dec == "," {
			european++
		} else {
			us++
		}
	}
	switch {
	case european > us:
		return European, true
	case us > european:
		return US, true
	}
	return Convention{}, false
}

// Round rounds to statement precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// WithinTolerance reports whether a and b differ by at most Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// FormatMT940 renders the magnitude of d with a comma decimal separator and no
// grouping, e.g. 1234.5 -> "1234,50".
func FormatMT940(d decimal.Decimal) string {
	return strings.Replace(Round(d).Abs().StringFixed(Places), ".", ",", 1)
}

// FormatPlain renders d as a dot-decimal string with two places.
func FormatPlain(d decimal.Decimal) string {
	return Round(d).StringFixed(Places)
}

// NormalizeCurrency upper-cases code and reports whether it is a known ISO-4217 currency.
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return code, false
	}
	return code, money.GetCurrency(code) != nil
}

// CurrencyFromSymbol maps a currency symbol or local abbreviation to its code.
func CurrencyFromSymbol(value string) (string, bool) {
	lower := strings.ToLower(value)
	switch {
	case strings.Contains(value, "€"):
		return EUR, true
	case strings.Contains(value, "£"):
		return GBP, true
	case strings.Contains(lower, "zł"):
		return PLN, true
	case strings.Contains(value, "$"):
		return USD, true
	}
	return "", false
}
