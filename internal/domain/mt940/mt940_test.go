package mt940

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement/statementtest"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func simpleLedger() *statement.Ledger {
	return &statement.Ledger{
		Metadata: statement.Metadata{
			AccountID:      "PL61 1090 1014 0000 0712 1981 2874",
			Currency:       "PLN",
			StartDate:      date(2024, 10, 1),
			EndDate:        date(2024, 10, 31),
			OpeningBalance: dec("1000.00"),
			ClosingBalance: dec("879.50"),
		},
		Transactions: []statement.Transaction{
			{ValueDate: date(2024, 10, 2), Amount: dec("-20.50"), Description: "Zakup BIEDRONKA", Kind: statement.KindDebit},
			{ValueDate: date(2024, 10, 5), Amount: dec("-100.00"), Description: "Przelew wychodzący", Kind: statement.KindTransfer, Reference: "TR/2024/10/05-0001"},
		},
	}
}

func TestEncode_SingleMessage(t *testing.T) {
	res, err := New(Config{}).Encode(simpleLedger(), "wyciag.csv")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	want := strings.Join([]string{
		":20:241001-WYCIAG",
		":25:/PL61109010140000071219812874",
		":28C:00001",
		":60F:C241001PLN1000,00",
		":61:2410021002D20,50NMSCNONREF",
		":86:Zakup BIEDRONKA",
		":61:2410051005D100,00NMSCTR/2024/10/05-00",
		":86:Przelew wychodzacy",
		":62F:C241031PLN879,50",
		"-",
		"",
	}, "\n")
	assert.Equal(t, want, res.Text)
	assert.Empty(t, res.Warnings)
}

func TestEncode_TenTransactions(t *testing.T) {
	ledger := statementtest.NewWithSeed(3).Ledger(10)

	res, err := New(Config{}).Encode(ledger, "statement.csv")
	require.NoError(t, err)

	assert.Equal(t, 10, strings.Count(res.Text, "\n:61:"))
	assert.Equal(t, 10, strings.Count(res.Text, "\n:86:"))
	assert.Contains(t, res.Text, ":28C:00001\n")
	assert.True(t, strings.HasSuffix(res.Text, "\n-\n"))
}

func TestEncode_FieldOrder(t *testing.T) {
	res, err := New(Config{}).Encode(simpleLedger(), "x.csv")
	require.NoError(t, err)

	var tags []string
	for _, f := range res.Messages[0].Fields {
		tags = append(tags, f.Tag)
	}
	assert.Equal(t, []string{"20", "25", "28C", "60F", "61", "86", "61", "86", "62F"}, tags)
}

func TestReference(t *testing.T) {
	start := date(2024, 10, 15)
	tests := []struct {
		filename string
		want     string
	}{
		{"ING_Corporate_Sep_2024.pdf", "241015-INGCORPO"},
		{"stmt.csv", "241015-STMT"},
		{"___.xlsx", "241015-STMT"},
		{"", "241015-STMT"},
		{"C:\\Users\\me\\wyciąg 10.csv", "241015-WYCIG10"},
		{"/tmp/uploads/konto.tar.gz", "241015-KONTOTAR"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := reference(start, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), 16)
		})
	}

	_, err := reference(time.Time{}, "a.csv")
	assert.ErrorIs(t, err, statement.ErrEncoding)
}

func TestAccountField(t *testing.T) {
	got, err := accountField(" DE89 3704 0044 0532 0130 00 ")
	require.NoError(t, err)
	assert.Equal(t, "/DE89370400440532013000", got)

	got, err = accountField("/PL61109010140000071219812874")
	require.NoError(t, err)
	assert.Equal(t, "/PL61109010140000071219812874", got)

	got, err = accountField("")
	require.NoError(t, err)
	assert.Equal(t, "/NOTPROVIDED", got)

	_, err = accountField(strings.Repeat("1", 40))
	assert.ErrorIs(t, err, statement.ErrEncoding)

	_, err = accountField("PL61_1090")
	assert.ErrorIs(t, err, statement.ErrEncoding)
}

func TestEncode_StructuralFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*statement.Ledger)
		field  string
	}{
		{"currency", func(l *statement.Ledger) { l.Metadata.Currency = "zł" }, TagOpeningFinal},
		{"start date", func(l *statement.Ledger) { l.Metadata.StartDate = time.Time{} }, TagReference},
		{"end date", func(l *statement.Ledger) { l.Metadata.EndDate = time.Time{} }, TagClosingFinal},
		{"balance overflow", func(l *statement.Ledger) { l.Metadata.ClosingBalance = dec("123456789012345.00") }, TagClosingFinal},
		{"amount overflow", func(l *statement.Ledger) { l.Transactions[0].Amount = dec("-99999999999999.99") }, TagStatementLine},
		{"value date", func(l *statement.Ledger) { l.Transactions[1].ValueDate = time.Time{} }, TagStatementLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := simpleLedger()
			tt.mutate(ledger)

			_, err := New(Config{}).Encode(ledger, "a.csv")
			require.Error(t, err)
			var encErr *statement.EncodingError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, tt.field, encErr.Field)
		})
	}

	_, err := New(Config{StatementNumber: 100000}).Encode(simpleLedger(), "a.csv")
	assert.ErrorIs(t, err, statement.ErrEncoding)

	_, err = New(Config{}).Encode(&statement.Ledger{}, "a.csv")
	assert.ErrorIs(t, err, statement.ErrEmptyStatement)
}

func TestEncode_Split(t *testing.T) {
	ledger := simpleLedger()
	ledger.Transactions = append(ledger.Transactions, statement.Transaction{
		ValueDate: date(2024, 10, 9), Amount: dec("0.00"), Description: "Korekta",
	})

	res, err := New(Config{MaxTransactionsPerMessage: 1, StatementNumber: 7}).Encode(ledger, "a.csv")
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)

	fields := func(i int) map[string]string {
		out := map[string]string{}
		for _, f := range res.Messages[i].Fields {
			out[f.Tag] = f.Value
		}
		return out
	}

	first, second, last := fields(0), fields(1), fields(2)
	assert.Equal(t, "00007/00001", first[TagStatementNumber])
	assert.Equal(t, "00007/00002", second[TagStatementNumber])
	assert.Equal(t, "00007/00003", last[TagStatementNumber])

	assert.Equal(t, "C241001PLN1000,00", first[TagOpeningFinal])
	assert.Equal(t, "C241002PLN979,50", first[TagClosingInterim])
	assert.Equal(t, "C241002PLN979,50", second[TagOpeningInterim])
	assert.Equal(t, "C241005PLN879,50", second[TagClosingInterim])
	assert.Equal(t, "C241005PLN879,50", last[TagOpeningInterim])
	assert.Equal(t, "C241031PLN879,50", last[TagClosingFinal])

	assert.NotContains(t, first, TagClosingFinal)
	assert.NotContains(t, last, TagOpeningFinal)
	assert.Equal(t, 3, strings.Count(res.Text, "\n-\n"))
}

func TestEncode_NoSplitBelowLimit(t *testing.T) {
	res, err := New(Config{MaxTransactionsPerMessage: 5}).Encode(simpleLedger(), "a.csv")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Text, ":28C:00001\n")
}

func TestEncode_DebitBalances(t *testing.T) {
	ledger := simpleLedger()
	ledger.Metadata.OpeningBalance = dec("-10.00")
	ledger.Metadata.ClosingBalance = dec("-130.50")

	res, err := New(Config{}).Encode(ledger, "a.csv")
	require.NoError(t, err)
	assert.Contains(t, res.Text, ":60F:D241001PLN10,00\n")
	assert.Contains(t, res.Text, ":62F:D241031PLN130,50\n")
}

func TestEncode_LineSeparator(t *testing.T) {
	ledger := simpleLedger()
	ledger.Transactions[0].Description = strings.Repeat("opis transakcji ", 10)

	res, err := New(Config{LineSeparator: "\r\n"}).Encode(ledger, "a.csv")
	require.NoError(t, err)
	assert.NotContains(t, strings.ReplaceAll(res.Text, "\r\n", ""), "\n")
	assert.True(t, strings.HasSuffix(res.Text, "\r\n-\r\n"))
}

func TestInformation(t *testing.T) {
	t.Run("transliterates", func(t *testing.T) {
		tx := statement.Transaction{Description: "Opłata za kartę – Łódź, Straße №5"}
		info, warnings := information(tx, 1)
		assert.Equal(t, "Oplata za karte - Lodz, Strasse 5", info)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "1 character(s)")
	})

	t.Run("wraps and truncates", func(t *testing.T) {
		word := strings.Repeat("x", 10)
		tx := statement.Transaction{Description: strings.TrimSpace(strings.Repeat(word+" ", 50))}
		info, warnings := information(tx, 4)

		lines := strings.Split(info, "\n")
		assert.Len(t, lines, 6)
		for _, l := range lines {
			assert.LessOrEqual(t, len(l), 65)
			assert.False(t, strings.HasSuffix(l, " "))
		}
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "record 4: description truncated")
	})

	t.Run("long word is cut", func(t *testing.T) {
		tx := statement.Transaction{Description: strings.Repeat("A", 100)}
		info, _ := information(tx, 1)
		assert.Equal(t, strings.Repeat("A", 65)+"\n"+strings.Repeat("A", 35), info)
	})

	t.Run("continuation cannot start a field", func(t *testing.T) {
		tx := statement.Transaction{Description: strings.Repeat("a", 64) + " :61:fake -"}
		info, _ := information(tx, 1)
		lines := strings.Split(info, "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, ".61:fake -", lines[1])
	})

	t.Run("empty description", func(t *testing.T) {
		info, _ := information(statement.Transaction{Kind: statement.KindFee}, 1)
		assert.Equal(t, "FEE", info)
		info, _ = information(statement.Transaction{Description: "日本"}, 1)
		assert.Equal(t, "NONREF", info)
	})
}

func TestSanitizeReference(t *testing.T) {
	assert.Equal(t, "ABC123", sanitizeReference(" ABC 123 "))
	assert.Equal(t, "X/Y", sanitizeReference("//X//Y"))
	assert.Equal(t, "1234567890123456", sanitizeReference("12345678901234567890"))
	assert.Empty(t, sanitizeReference("#"))
	assert.Equal(t, "A/B", sanitizeReference("A///B"))
	assert.Equal(t, "A/B", sanitizeReference("A////B"))
	assert.Equal(t, "123456789012345", sanitizeReference("123456789012345/6789"))
	assert.Equal(t, "REF", sanitizeReference("REF/"))
}

func TestEncode_FieldLimits(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		ledger := statementtest.NewWithSeed(seed).Ledger(40)
		res, err := New(Config{MaxTransactionsPerMessage: 15}).Encode(ledger, fmt.Sprintf("Wyciąg_%d.csv", seed))
		require.NoError(t, err)
		require.Len(t, res.Messages, 3)

		for _, msg := range res.Messages {
			for _, f := range msg.Fields {
				switch f.Tag {
				case TagReference:
					assert.LessOrEqual(t, len(f.Value), 16)
				case TagAccount:
					assert.LessOrEqual(t, len(f.Value), 35)
				case TagInformation:
					lines := strings.Split(f.Value, "\n")
					assert.LessOrEqual(t, len(lines), 6)
					for _, l := range lines {
						assert.LessOrEqual(t, len(l), 65)
					}
				}
				for _, r := range f.Value {
					assert.True(t, r == '\n' || isSwiftX(r), "seed %d field %s: %q", seed, f.Tag, r)
				}
			}
		}

		var sum decimal.Decimal
		for _, tx := range ledger.Transactions {
			sum = sum.Add(tx.Amount)
		}
		assert.Contains(t, res.Text, ":28C:00001/00003\n")
		assert.True(t, ledger.Metadata.OpeningBalance.Add(sum).Equal(ledger.Metadata.ClosingBalance), "seed %d", seed)
	}
}
