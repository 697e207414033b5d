package statement

import (
	"fmt"
	"sort"
)

// FieldRole is the meaning of a column in a tabular statement.
type FieldRole string

const (
	RoleDate        FieldRole = "date"
	RoleAmount      FieldRole = "amount"
	RoleDebit       FieldRole = "debit"
	RoleCredit      FieldRole = "credit"
	RoleDescription FieldRole = "description"
	RoleBalance     FieldRole = "balance"
	RoleReference   FieldRole = "reference"
	RoleCurrency    FieldRole = "currency"
)

// SignConvention tells how the direction of money is encoded.
type SignConvention string

const (
	SignSigned      SignConvention = "signed"       // one amount column, negative = out
	SignDebitCredit SignConvention = "debit_credit" // separate debit and credit columns
)

// NumberConvention declares decimal and thousands separators.
type NumberConvention struct {
	DecimalSeparator   string
	ThousandsSeparator string
}

// Columns maps roles to zero-based column indexes. -1 means absent.
type Columns struct {
	Date        int
	Amount      int
	Debit       int
	Credit      int
	Description []int
	Balance     int
	Reference   int
	Currency    int
}

// NoColumns returns a Columns value with every role absent.
func NoColumns() Columns {
	return Columns{
		Date:      -1,
		Amount:    -1,
		Debit:     -1,
		Credit:    -1,
		Balance:   -1,
		Reference: -1,
		Currency:  -1,
	}
}

// MetadataHints are statement-level values read from the header region.
type MetadataHints struct {
	AccountNumber  string
	Currency       string
	OpeningBalance string
	ClosingBalance string
	StartDate      string
	EndDate        string
}

// FormatSpecification describes how to read a delimited or spreadsheet source.
type FormatSpecification struct {
	HeaderRow    int // zero-based, -1 when the source has no header row
	DataStartRow int // first line that may hold a transaction
	Delimiter    rune
	QuoteChar    rune
	Columns      Columns
	DatePattern  string
	Numbers      NumberConvention
	Sign         SignConvention
	Metadata     MetadataHints
}

// RoleColumn is one (column, role) pair.
type RoleColumn struct {
	Index int
	Role  FieldRole
}

// Roles returns the declared roles ordered by column index.
func (s *FormatSpecification) Roles() []RoleColumn {
	var roles []RoleColumn
	add := func(idx int, role FieldRole) {
		if idx >= 0 {
			roles = append(roles, RoleColumn{Index: idx, Role: role})
		}
	}
	c := s.Columns
	add(c.Date, RoleDate)
	add(c.Amount, RoleAmount)
	add(c.Debit, RoleDebit)
	add(c.Credit, RoleCredit)
	for _, idx := range c.Description {
		add(idx, RoleDescription)
	}
	add(c.Balance, RoleBalance)
	add(c.Reference, RoleReference)
	add(c.Currency, RoleCurrency)

	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Index < roles[j].Index })
	return roles
}

// Validate checks the specification against a document of lineCount lines.
func (s *FormatSpecification) Validate(lineCount int) error {
	if s.DataStartRow < 0 || s.DataStartRow >= lineCount {
		return fmt.Errorf("data start row %d outside document of %d lines", s.DataStartRow, lineCount)
	}
	if s.HeaderRow >= s.DataStartRow {
		return fmt.Errorf("header row %d is not before data start row %d", s.HeaderRow, s.DataStartRow)
	}
	if s.Delimiter == 0 {
		return fmt.Errorf("delimiter not set")
	}
	if s.Columns.Date < 0 {
		return fmt.Errorf("no date column")
	}
	switch s.Sign {
	case SignSigned:
		if s.Columns.Amount < 0 {
			return fmt.Errorf("signed convention without amount column")
		}
	case SignDebitCredit:
		if s.Columns.Debit < 0 && s.Columns.Credit < 0 {
			return fmt.Errorf("debit/credit convention without debit or credit column")
		}
	default:
		return fmt.Errorf("unknown sign convention %q", s.Sign)
	}
	if len(s.Columns.Description) == 0 {
		return fmt.Errorf("no description column")
	}
	if s.Numbers.DecimalSeparator != "" && s.Numbers.DecimalSeparator == s.Numbers.ThousandsSeparator {
		return fmt.Errorf("decimal and thousands separators are both %q", s.Numbers.DecimalSeparator)
	}
	return nil
}
