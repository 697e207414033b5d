package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/money"
)

// ISODate is the canonical date layout of raw transactions.
const ISODate = "2006-01-02"

// tokenLayouts maps date pattern tokens to Go layout fragments, longest first.
// Day and month map to the unpadded layouts, which accept both "5" and "05".
var tokenLayouts = []struct{ token, layout string }{
	{"YYYY", "2006"},
	{"yyyy", "2006"},
	{"%Y", "2006"},
	{"MMM", "Jan"},
	{"%b", "Jan"},
	{"YY", "06"},
	{"yy", "06"},
	{"%y", "06"},
	{"MM", "1"},
	{"%m", "1"},
	{"DD", "2"},
	{"dd", "2"},
	{"%d", "2"},
	{"M", "1"},
	{"D", "2"},
	{"d", "2"},
}

// fallbackLayouts are tried when no pattern is declared
var fallbackLayouts = []string{
	"2006-01-02",           // ISO 8601
	"02.01.2006",           // DD.MM.YYYY
	"02/01/2006",           // DD/MM/YYYY (European)
	"02-01-2006",           // DD-MM-YYYY
	"2006/01/02",           // YYYY/MM/DD
	"2006.01.02",           // YYYY.MM.DD
	"20060102",             // compact
	"2006-01-02T15:04:05Z", // ISO 8601 with time
	"2006-01-02 15:04:05",  // ISO with space
}

// DateLayout converts a token pattern such as "DD.MM.YYYY" or "%d/%m/%Y" into
// a Go layout. A pattern that already is a Go layout is returned unchanged.
func DateLayout(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return "", fmt.Errorf("empty date pattern")
	}
	if strings.ContainsAny(pattern, "0123456789") {
		return pattern, nil
	}

	var b strings.Builder
	found := false
	for i := 0; i < len(pattern); {
		matched := false
		for _, t := range tokenLayouts {
			if strings.HasPrefix(pattern[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				found = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	if !found {
		return "", fmt.Errorf("date pattern %q has no date tokens", pattern)
	}
	return b.String(), nil
}

// ParseDate parses value under pattern. An empty pattern tries common layouts.
// A trailing time part after the date is tolerated.
func ParseDate(value, pattern string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	layouts := fallbackLayouts
	if pattern != "" {
		layout, err := DateLayout(pattern)
		if err != nil {
			return time.Time{}, err
		}
		layouts = []string{layout}
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if i := strings.IndexAny(value, " T"); i > 0 {
			if t, err := time.Parse(layout, value[:i]); err == nil {
				return t, nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("date %q does not match pattern %q", value, pattern)
}

// ParseAmount parses a localized amount under the declared convention. When
// only the decimal separator is declared, the other common mark is taken as
// the thousands separator. An empty convention infers both from the value.
func ParseAmount(value string, conv statement.NumberConvention) (decimal.Decimal, error) {
	mc := money.Convention{Decimal: conv.DecimalSeparator, Thousands: conv.ThousandsSeparator}
	if mc.Thousands == "" {
		switch mc.Decimal {
		case ",":
			mc.Thousands = "."
		case ".":
			mc.Thousands = ","
		}
	}
	return money.Parse(value, mc)
}
