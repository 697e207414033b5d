package understanding

import (
	"fmt"
	"strings"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

const detectFormatPrompt = `You are a bank statement layout analyst. The text below is the beginning of a
delimited bank statement export. Lines are numbered from 0 in square brackets; the numbers are not
part of the file.

Describe how a program should read the transaction table. Return STRICT JSON only, exactly one
object with these fields and no others:

{
  "detected": true,
  "reason": "",
  "header_row": 4,
  "data_start_row": 5,
  "delimiter": ";",
  "quote_char": "\"",
  "columns": {"date": 0, "amount": 4, "debit": null, "credit": null, "description": [1, 2],
              "balance": 5, "reference": null, "currency": null},
  "date_pattern": "DD.MM.YYYY",
  "decimal_separator": ",",
  "thousands_separator": " ",
  "sign_convention": "signed",
  "metadata": {"account_number": "PL61109010140000071219812874", "currency": "PLN",
               "opening_balance": "2 000,00", "closing_balance": null,
               "start_date": "01.10.2024", "end_date": "31.10.2024"}
}

Field details:
- header_row: line number of the column header row, null when there is none
- data_start_row: line number of the first transaction row
- delimiter: the single field separator character, "tab" for tabs
- columns: zero-based column indexes, null when the column does not exist; description lists
  every column that should be joined into the transaction description
- date_pattern: tokens DD, MM, MMM, YYYY, YY with the separators used in the file
- sign_convention: "signed" when one amount column carries the sign, "debit_credit" when money
  out and money in are in separate columns
- metadata: values exactly as printed in the header area, null when not present

If the text does not contain a transaction table, return {"detected": false, "reason": "..."}.
Do NOT wrap the response in code fences.

Document sample:

`

const extractPrompt = `You are a financial document parser. Analyze the following document and extract ALL
transaction data. The document may be a bank statement, credit card statement, or any financial
transaction record.

Return STRICT JSON only, exactly one object with these fields and no others:

{
  "metadata": {"account_number": "123456789", "currency": "USD",
               "statement_start_date": "2024-01-01", "statement_end_date": "2024-01-31",
               "opening_balance": 2000.00, "closing_balance": 1949.75},
  "transactions": [
    {"date": "2024-01-15", "amount": -50.25, "description": "Amazon Purchase",
     "type": "DEBIT", "reference": "REF123456", "balance": 1949.75}
  ]
}

Field details:
- date: ISO format YYYY-MM-DD
- amount: positive for credits/deposits, negative for debits/withdrawals, dot as decimal separator
- description: transaction description/payee
- type: CREDIT, DEBIT, TRANSFER, FEE, INTEREST, or OTHER
- reference: transaction ID/reference number, null if not available
- balance: account balance after the transaction, null if not available
- account_number: remove ALL whitespace from IBANs (e.g. "PL 27 1050..." becomes "PL271050...")
- currency: 3-letter ISO code (USD, EUR, GBP, PLN, etc.); look for symbols (€, $, £, zł) or codes
- any metadata value that is not in the document: null

IMPORTANT:
- Be thorough: extract ALL transactions you find, in document order
- Amounts: negative for money going out, positive for money coming in
- When there are no transactions, return an empty "transactions" array
- Do NOT wrap the response in code fences
`

// numberLines prefixes each line with its zero-based index so the service
// can report row offsets.
func numberLines(sample string) string {
	lines := strings.Split(sample, "\n")
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "[%d] %s\n", i, l)
	}
	return b.String()
}

func buildDetectPrompt(sample string) string {
	return detectFormatPrompt + numberLines(sample)
}

func buildExtractPrompt(in ChunkInput) string {
	var b strings.Builder
	b.WriteString(extractPrompt)

	if in.Hint != nil {
		b.WriteString("\nLayout hint: ")
		b.WriteString(describeHint(in.Hint))
		b.WriteString("\n")
	}
	if in.Total > 1 {
		fmt.Fprintf(&b, "\nThis is part %d of %d of the document.\n", in.Index+1, in.Total)
	}
	if in.Context != "" {
		b.WriteString("\nDocument header, for context only. Do NOT extract transactions from it:\n\n")
		b.WriteString(in.Context)
		b.WriteString("\n")
	}
	if in.IsVision() {
		b.WriteString("\nThe document is attached.\n")
		return b.String()
	}

	b.WriteString("\nDocument content:\n\n")
	b.WriteString(in.Text)
	return b.String()
}

func describeHint(spec *statement.FormatSpecification) string {
	parts := make([]string, 0, 8)
	for _, rc := range spec.Roles() {
		parts = append(parts, fmt.Sprintf("column %d is %s", rc.Index, rc.Role))
	}
	if spec.DatePattern != "" {
		parts = append(parts, "dates look like "+spec.DatePattern)
	}
	if spec.Numbers.DecimalSeparator != "" {
		parts = append(parts, fmt.Sprintf("decimal separator %q", spec.Numbers.DecimalSeparator))
	}
	if spec.Sign == statement.SignDebitCredit {
		parts = append(parts, "debits and credits are in separate columns")
	}
	return strings.Join(parts, "; ")
}
