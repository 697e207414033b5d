// Package statementtest generates realistic statement fixtures with gofakeit.
package statementtest

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Generator produces random but reproducible ledgers and raw extractions.
type Generator struct {
	faker *gofakeit.Faker
}

// New creates a generator with a random seed.
func New() *Generator {
	return &Generator{faker: gofakeit.New(0)}
}

// NewWithSeed creates a generator with a fixed seed for reproducibility.
func NewWithSeed(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

var descriptions = []string{
	"Card payment BIEDRONKA",
	"Przelew przychodzacy WYNAGRODZENIE",
	"Oplata za prowadzenie rachunku",
	"Kapitalizacja odsetek",
	"Transfer to savings",
	"Direct debit ENERGA",
	"ATM withdrawal",
	"Refund ALLEGRO",
	"Monthly salary",
	"Insurance premium",
}

// Amount returns a random non-zero amount with two decimals in [-max, max].
func (g *Generator) Amount(maxCents int64) decimal.Decimal {
	cents := g.faker.Int64()%maxCents + 1
	if cents < 0 {
		cents = -cents
	}
	if g.faker.Bool() {
		cents = -cents
	}
	return decimal.New(cents, -2)
}

// Transactions returns count transactions with non-decreasing value dates from start.
func (g *Generator) Transactions(start time.Time, count int) []statement.Transaction {
	txs := make([]statement.Transaction, count)
	date := start
	for i := range txs {
		if g.faker.Number(0, 3) == 0 {
			date = date.AddDate(0, 0, 1)
		}
		amount := g.Amount(500000)
		kind := statement.KindCredit
		if amount.IsNegative() {
			kind = statement.KindDebit
		}
		txs[i] = statement.Transaction{
			ValueDate:   date,
			Amount:      amount,
			Description: g.faker.RandomString(descriptions),
			Kind:        kind,
			Reference:   fmt.Sprintf("REF%06d", i+1),
		}
	}
	return txs
}

// Ledger returns a balanced ledger with count transactions.
func (g *Generator) Ledger(count int) *statement.Ledger {
	start := time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC)
	txs := g.Transactions(start, count)

	opening := decimal.New(g.faker.Int64()%10000000, -2).Abs()
	closing := opening
	for _, tx := range txs {
		closing = closing.Add(tx.Amount)
	}
	end := start
	if count > 0 {
		end = txs[count-1].ValueDate
	}

	return &statement.Ledger{
		Metadata: statement.Metadata{
			AccountID:      "PL61109010140000071219812874",
			Currency:       "PLN",
			StartDate:      start,
			EndDate:        end,
			OpeningBalance: opening,
			ClosingBalance: closing,
		},
		Transactions: txs,
	}
}

// RawTransactions converts transactions to the canonical raw strings a strategy emits.
func RawTransactions(txs []statement.Transaction) []statement.RawTransaction {
	raw := make([]statement.RawTransaction, len(txs))
	for i, tx := range txs {
		raw[i] = statement.RawTransaction{
			Date:        tx.ValueDate.Format("2006-01-02"),
			Amount:      tx.Amount.StringFixed(2),
			Description: tx.Description,
			Type:        string(tx.Kind),
			Reference:   tx.Reference,
		}
	}
	return raw
}
