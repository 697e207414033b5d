// Package statement holds the canonical bank statement model shared by the
// extraction pipeline and the MT940 encoder.
package statement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is the broad kind of an uploaded statement file.
type Category string

const (
	CategoryDelimitedText Category = "delimited_text"
	CategorySpreadsheet   Category = "spreadsheet"
	CategoryPageImage     Category = "page_image"
)

// IsTabular reports whether the category goes through format detection.
func (c Category) IsTabular() bool {
	return c == CategoryDelimitedText || c == CategorySpreadsheet
}

// RawDocument is the uploaded file as received. It is consumed once per request.
type RawDocument struct {
	Content  []byte
	Category Category
	Filename string
	MIMEType string
	Encoding string // detected character encoding, text sources only
}

// Page is one page of a page-image document with whatever text could be lifted from it.
type Page struct {
	Number int
	Text   string
}

// Document is the canonical representation produced by the loader.
type Document struct {
	Source    RawDocument
	Lines     []string   // delimited text, or the tab rendering of a spreadsheet
	Rows      [][]string // spreadsheet cells, kept for re-rendering
	SheetName string
	Pages     []Page
}

// LineCount is the size metric for text and spreadsheet sources.
func (d *Document) LineCount() int {
	return len(d.Lines)
}

// PageCount is the size metric for page-image sources.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// IsSmall reports whether the document is below the size threshold of its
// category: pages for page-image sources, lines otherwise.
func (d *Document) IsSmall(lineThreshold, pageThreshold int) bool {
	if d.Source.Category == CategoryPageImage {
		return d.PageCount() < pageThreshold
	}
	return d.LineCount() < lineThreshold
}

// HasPageText reports whether any page carries extracted text.
func (d *Document) HasPageText() bool {
	for _, p := range d.Pages {
		if p.Text != "" {
			return true
		}
	}
	return false
}

// Kind classifies a transaction. It is derived, not authoritative.
type Kind string

const (
	KindCredit   Kind = "credit"
	KindDebit    Kind = "debit"
	KindTransfer Kind = "transfer"
	KindFee      Kind = "fee"
	KindInterest Kind = "interest"
	KindOther    Kind = "other"
)

// ParseKind maps free-form type labels to a Kind. Unknown labels map to "".
func ParseKind(s string) Kind {
	switch Kind(normalizeLabel(s)) {
	case KindCredit:
		return KindCredit
	case KindDebit:
		return KindDebit
	case KindTransfer:
		return KindTransfer
	case KindFee:
		return KindFee
	case KindInterest:
		return KindInterest
	case KindOther:
		return KindOther
	}
	return ""
}

// AgreesWith reports whether the kind is compatible with the sign of amount.
func (k Kind) AgreesWith(amount decimal.Decimal) bool {
	switch k {
	case KindCredit:
		return !amount.IsNegative()
	case KindDebit, KindFee:
		return amount.IsNegative()
	default:
		return true
	}
}

// Transaction is one normalized ledger entry.
type Transaction struct {
	ValueDate   time.Time
	Amount      decimal.Decimal // signed, two decimals
	Description string
	Kind        Kind
	Reference   string
	Balance     *decimal.Decimal
}

// IsCredit reports whether the entry is marked C in MT940 terms.
func (t Transaction) IsCredit() bool {
	return !t.Amount.IsNegative()
}

// Metadata describes the statement as a whole.
type Metadata struct {
	AccountID      string
	Currency       string
	StartDate      time.Time
	EndDate        time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	// ClosingComputed is set when the closing balance was derived from the transactions.
	ClosingComputed bool
}

// BalanceCheck is the result of comparing closing-opening with the transaction sum.
type BalanceCheck struct {
	Expected   decimal.Decimal // closing - opening as provided
	Actual     decimal.Decimal // signed sum of transactions
	Difference decimal.Decimal
	OK         bool
}

// Ledger is the normalized output handed to the encoder.
type Ledger struct {
	Metadata     Metadata
	Transactions []Transaction
	Balance      *BalanceCheck
	Warnings     []string
}

// RawTransaction is a strategy's output before normalization. Dates are ISO
// (2006-01-02) and amounts dot-decimal strings.
type RawTransaction struct {
	Date        string
	Amount      string
	Description string
	Type        string
	Reference   string
	Balance     string
}

// RawMetadata is the partial statement metadata a strategy managed to extract.
type RawMetadata struct {
	AccountNumber  string
	Currency       string
	StartDate      string
	EndDate        string
	OpeningBalance string
	ClosingBalance string
}

// IsZero reports whether no metadata field is set.
func (m RawMetadata) IsZero() bool {
	return m == RawMetadata{}
}

// Usage counts consumption of the external understanding service.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Calls        int
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Calls += other.Calls
}

// Extraction is what a successful strategy hands to the normalizer.
type Extraction struct {
	Transactions []RawTransaction
	Metadata     RawMetadata
	Usage        Usage
	Warnings     []string
	// Absorbed combines the call failures that were turned into empty results.
	Absorbed error
}

// Attempt records one rung of the method ladder.
type Attempt struct {
	Method       ParsingMethod
	Transactions int
	Err          error
}

// ExtractionOutcome is the analytics record of one conversion request.
type ExtractionOutcome struct {
	ID                  uuid.UUID
	Filename            string
	Category            Category
	Encoding            string
	Method              ParsingMethod
	Attempts            []Attempt
	Ledger              *Ledger
	LineCount           int
	PageCount           int
	Usage               Usage
	FormatSpecification *FormatSpecification
	Success             bool
	ErrorCode           string
	ErrorMessage        string
	StartedAt           time.Time
	Duration            time.Duration
}

// AttemptedMethods returns the methods tried, in order.
func (o *ExtractionOutcome) AttemptedMethods() []ParsingMethod {
	methods := make([]ParsingMethod, 0, len(o.Attempts))
	for _, a := range o.Attempts {
		methods = append(methods, a.Method)
	}
	return methods
}

// TransactionCount returns the number of normalized transactions, if any.
func (o *ExtractionOutcome) TransactionCount() int {
	if o.Ledger == nil {
		return 0
	}
	return len(o.Ledger.Transactions)
}
