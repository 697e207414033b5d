// Package mt940 renders a normalized ledger as SWIFT MT940 customer
// statement messages.
package mt940

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/money"
)

const (
	TagReference       = "20"
	TagAccount         = "25"
	TagStatementNumber = "28C"
	TagOpeningFinal    = "60F"
	TagOpeningInterim  = "60M"
	TagStatementLine   = "61"
	TagInformation     = "86"
	TagClosingFinal    = "62F"
	TagClosingInterim  = "62M"
)

const (
	referenceLength   = 16
	fragmentLength    = 8
	accountLength     = 35
	amountLength      = 15
	maxSequence       = 99999
	informationWidth  = 65
	informationLines  = 6
	fallbackFragment  = "STMT"
	accountSentinel   = "NOTPROVIDED"
	noReference       = "NONREF"
	defaultTypeCode   = "NMSC"
	messageTerminator = "-"
	shortDate         = "060102"
	entryDate         = "0102"
)

// Config holds encoder settings that do not change between requests.
type Config struct {
	StatementNumber           int // defaults to 1
	MaxTransactionsPerMessage int // 0 keeps the statement in one message
	TransactionTypeCode       string
	LineSeparator             string
}

// Field is one tagged MT940 field. Value may span several lines.
type Field struct {
	Tag   string
	Value string
}

// Message is one MT940 message, fields in output order.
type Message struct {
	Fields []Field
}

// Result is the encoded statement.
type Result struct {
	Messages []Message
	Text     string
	// Warnings report free-text truncation and dropped characters.
	Warnings []string
}

// Encoder is stateless and safe for concurrent use.
type Encoder struct {
	cfg Config
}

// New creates an Encoder, filling unset options with their defaults.
func New(cfg Config) *Encoder {
	if cfg.StatementNumber <= 0 {
		cfg.StatementNumber = 1
	}
	if cfg.MaxTransactionsPerMessage < 0 {
		cfg.MaxTransactionsPerMessage = 0
	}
	if cfg.TransactionTypeCode == "" {
		cfg.TransactionTypeCode = defaultTypeCode
	}
	if cfg.LineSeparator == "" {
		cfg.LineSeparator = "\n"
	}
	return &Encoder{cfg: cfg}
}

// Encode renders ledger. filename is the uploaded file name and feeds the
// field 20 reference. Structural fields that cannot be represented fail with
// a *statement.EncodingError; free text is truncated with a warning instead.
func (e *Encoder) Encode(ledger *statement.Ledger, filename string) (*Result, error) {
	if ledger == nil || len(ledger.Transactions) == 0 {
		return nil, &statement.EmptyStatementError{}
	}
	m := ledger.Metadata

	ref, err := reference(m.StartDate, filename)
	if err != nil {
		return nil, err
	}
	account, err := accountField(m.AccountID)
	if err != nil {
		return nil, err
	}
	if err := checkCurrency(m.Currency); err != nil {
		return nil, err
	}
	if m.EndDate.IsZero() {
		return nil, &statement.EncodingError{Field: TagClosingFinal, Reason: "statement end date is missing"}
	}
	if e.cfg.StatementNumber > maxSequence {
		return nil, &statement.EncodingError{Field: TagStatementNumber, Value: fmt.Sprint(e.cfg.StatementNumber), Reason: "statement number exceeds 5 digits"}
	}

	groups := split(ledger.Transactions, e.cfg.MaxTransactionsPerMessage)
	if len(groups) > maxSequence {
		return nil, &statement.EncodingError{Field: TagStatementNumber, Value: fmt.Sprint(len(groups)), Reason: "sequence number exceeds 5 digits"}
	}

	res := &Result{Messages: make([]Message, 0, len(groups))}
	running := m.OpeningBalance
	offset := 0
	for i, txs := range groups {
		msg := Message{Fields: []Field{
			{TagReference, ref},
			{TagAccount, account},
			{TagStatementNumber, e.statementNumber(i+1, len(groups))},
		}}

		openTag, openDate := TagOpeningFinal, m.StartDate
		if i > 0 {
			openTag, openDate = TagOpeningInterim, groups[i-1][len(groups[i-1])-1].ValueDate
		}
		opening, err := balance(openTag, running, openDate, m.Currency)
		if err != nil {
			return nil, err
		}
		msg.Fields = append(msg.Fields, Field{openTag, opening})

		for j, tx := range txs {
			line, err := e.statementLine(tx, offset+j+1)
			if err != nil {
				return nil, err
			}
			msg.Fields = append(msg.Fields, Field{TagStatementLine, line})
			info, warnings := information(tx, offset+j+1)
			msg.Fields = append(msg.Fields, Field{TagInformation, info})
			res.Warnings = append(res.Warnings, warnings...)
			running = running.Add(tx.Amount)
		}
		offset += len(txs)

		closeTag, closeDate, closeAmount := TagClosingInterim, txs[len(txs)-1].ValueDate, running
		if i == len(groups)-1 {
			closeTag, closeDate, closeAmount = TagClosingFinal, m.EndDate, m.ClosingBalance
		}
		closing, err := balance(closeTag, closeAmount, closeDate, m.Currency)
		if err != nil {
			return nil, err
		}
		msg.Fields = append(msg.Fields, Field{closeTag, closing})
		res.Messages = append(res.Messages, msg)
	}

	res.Text = Render(res.Messages, e.cfg.LineSeparator)
	return res, nil
}

func (e *Encoder) statementNumber(seq, total int) string {
	if total == 1 {
		return fmt.Sprintf("%05d", e.cfg.StatementNumber)
	}
	return fmt.Sprintf("%05d/%05d", e.cfg.StatementNumber, seq)
}

// statementLine renders field 61: value date, entry date, mark, amount,
// transaction type and reference.
func (e *Encoder) statementLine(tx statement.Transaction, row int) (string, error) {
	if tx.ValueDate.IsZero() {
		return "", &statement.EncodingError{Field: TagStatementLine, Value: fmt.Sprintf("record %d", row), Reason: "value date is missing"}
	}
	amount := money.FormatMT940(tx.Amount)
	if len(amount) > amountLength {
		return "", &statement.EncodingError{Field: TagStatementLine, Value: amount, Reason: "amount exceeds 15 characters"}
	}
	ref := sanitizeReference(tx.Reference)
	if ref == "" {
		ref = noReference
	}
	return tx.ValueDate.Format(shortDate) + tx.ValueDate.Format(entryDate) + mark(tx.Amount) + amount + e.cfg.TransactionTypeCode + ref, nil
}

// information renders field 86 as up to six lines of 65 characters.
func information(tx statement.Transaction, row int) (string, []string) {
	var warnings []string
	text, dropped := transliterate(tx.Description)
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("record %d: %d character(s) in the description have no MT940 representation", row, dropped))
	}
	if text == "" {
		text = strings.ToUpper(string(tx.Kind))
		if text == "" {
			text = noReference
		}
	}

	lines, truncated := wrap(text, informationWidth, informationLines)
	if truncated {
		warnings = append(warnings, fmt.Sprintf("record %d: description truncated to %d lines", row, informationLines))
	}
	for i := 1; i < len(lines); i++ {
		lines[i] = guardLine(lines[i])
	}
	return strings.Join(lines, "\n"), warnings
}

// balance renders 60F/60M/62F/62M: mark, date, currency and amount.
func balance(tag string, amount decimal.Decimal, date time.Time, currency string) (string, error) {
	if date.IsZero() {
		return "", &statement.EncodingError{Field: tag, Reason: "balance date is missing"}
	}
	formatted := money.FormatMT940(amount)
	if len(formatted) > amountLength {
		return "", &statement.EncodingError{Field: tag, Value: formatted, Reason: "amount exceeds 15 characters"}
	}
	return mark(amount) + date.Format(shortDate) + currency + formatted, nil
}

func mark(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "D"
	}
	return "C"
}

// reference synthesizes field 20 as YYMMDD-FRAGMENT from the statement start
// date and the upload's file name.
func reference(start time.Time, filename string) (string, error) {
	if start.IsZero() {
		return "", &statement.EncodingError{Field: TagReference, Reason: "statement start date is missing"}
	}
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range base {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	fragment := b.String()
	if fragment == "" {
		fragment = fallbackFragment
	}
	if len(fragment) > fragmentLength {
		fragment = fragment[:fragmentLength]
	}

	ref := start.Format(shortDate) + "-" + fragment
	if len(ref) > referenceLength {
		ref = ref[:referenceLength]
	}
	return ref, nil
}

// accountField renders field 25 as "/" followed by the account without
// whitespace.
func accountField(account string) (string, error) {
	account = strings.TrimLeft(strings.Join(strings.Fields(account), ""), "/")
	if account == "" {
		account = accountSentinel
	}
	value := "/" + account
	if len(value) > accountLength {
		return "", &statement.EncodingError{Field: TagAccount, Value: value, Reason: "account exceeds 35 characters"}
	}
	for _, r := range account {
		if !isSwiftX(r) {
			return "", &statement.EncodingError{Field: TagAccount, Value: value, Reason: "account contains characters outside the SWIFT character set"}
		}
	}
	return value, nil
}

func checkCurrency(code string) error {
	if len(code) != 3 {
		return &statement.EncodingError{Field: TagOpeningFinal, Value: code, Reason: "currency must be a 3 letter code"}
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return &statement.EncodingError{Field: TagOpeningFinal, Value: code, Reason: "currency must be a 3 letter code"}
		}
	}
	return nil
}

// split cuts txs into messages of at most limit transactions.
func split(txs []statement.Transaction, limit int) [][]statement.Transaction {
	if limit <= 0 || len(txs) <= limit {
		return [][]statement.Transaction{txs}
	}
	var groups [][]statement.Transaction
	for start := 0; start < len(txs); start += limit {
		end := min(start+limit, len(txs))
		groups = append(groups, txs[start:end])
	}
	return groups
}

// Render serializes messages, one field per line, each message closed by a
// "-" line. Multi-line field values use sep between their lines as well.
func Render(messages []Message, sep string) string {
	if sep == "" {
		sep = "\n"
	}
	var b strings.Builder
	for _, msg := range messages {
		for _, f := range msg.Fields {
			b.WriteString(":" + f.Tag + ":")
			b.WriteString(strings.ReplaceAll(f.Value, "\n", sep))
			b.WriteString(sep)
		}
		b.WriteString(messageTerminator)
		b.WriteString(sep)
	}
	return b.String()
}
