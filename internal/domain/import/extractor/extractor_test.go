package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding/understandingtest"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement/statementtest"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

const header = "Date;Description;Amount"

// lineClient extracts one transaction per "date;description;amount" line of
// the chunk text, sleeping a random time so that chunks finish out of order.
func lineClient(jitter time.Duration) *understandingtest.Client {
	return &understandingtest.Client{
		TokensPerCall: 7,
		ExtractFunc: func(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error) {
			if jitter > 0 {
				select {
				case <-time.After(time.Duration(rand.Int63n(int64(jitter)))):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			ext := &statement.Extraction{}
			for _, line := range strings.Split(in.Text, "\n") {
				fields := strings.Split(line, ";")
				if len(fields) != 3 || line == header {
					continue
				}
				ext.Transactions = append(ext.Transactions, statement.RawTransaction{
					Date:        fields[0],
					Description: fields[1],
					Amount:      fields[2],
				})
			}
			return ext, nil
		},
	}
}

func statementLines(t *testing.T, seed int64, count int) []string {
	t.Helper()
	gen := statementtest.NewWithSeed(seed)
	ledger := gen.Ledger(count)

	lines := []string{header}
	for _, raw := range statementtest.RawTransactions(ledger.Transactions) {
		lines = append(lines, fmt.Sprintf("%s;%s;%s", raw.Date, raw.Description, raw.Amount))
	}
	return lines
}

func TestSplitLines(t *testing.T) {
	lines := []string{"h1", "h2", "a", "b", "c", "d", "e"}

	chunks := SplitLines(lines, 3, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, "h1\nh2\na", chunks[0].Text)
	assert.Empty(t, chunks[0].Context)
	assert.Equal(t, "b\nc\nd", chunks[1].Text)
	assert.Equal(t, "h1\nh2", chunks[1].Context)
	assert.Equal(t, "e", chunks[2].Text)
	assert.Equal(t, 1, chunks[2].Units)
	assert.Equal(t, 2, chunks[2].Index)

	var units int
	for _, c := range chunks {
		units += c.Units
	}
	assert.Equal(t, len(lines), units, "chunks cover the document without overlap")

	assert.Nil(t, SplitLines(nil, 3, 2))
	assert.Len(t, SplitLines(lines, 0, 2), 1)
}

func TestSplitPages(t *testing.T) {
	pages := []statement.Page{{Number: 1, Text: "one"}, {Number: 2, Text: "two"}, {Number: 3, Text: "three"}}

	chunks := SplitPages(pages, 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, "--- page 1 ---\none\n--- page 2 ---\ntwo", chunks[0].Text)
	assert.Equal(t, "--- page 3 ---\nthree", chunks[1].Text)
	assert.Equal(t, 2, chunks[0].Units)
}

func TestExtract_OrderPreservation(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			lines := statementLines(t, seed, 57)

			single, err := New(lineClient(0), Config{MaxConcurrency: 1}, logger.Discard()).
				ExtractSingle(context.Background(), understanding.ChunkInput{Text: strings.Join(lines, "\n")})
			require.NoError(t, err)
			require.Len(t, single.Transactions, 57)

			client := lineClient(5 * time.Millisecond)
			chunks := SplitLines(lines, 10, 1)
			chunked, err := New(client, Config{MaxConcurrency: 4}, logger.Discard()).
				Extract(context.Background(), chunks, nil)
			require.NoError(t, err)

			assert.Equal(t, single.Transactions, chunked.Transactions)
			assert.Equal(t, statement.Usage{InputTokens: 7 * len(chunks), OutputTokens: 7 * len(chunks), Calls: len(chunks)}, chunked.Usage)
			assert.Empty(t, chunked.Warnings)
		})
	}
}

func TestExtract_FailedChunkIsAbsorbed(t *testing.T) {
	lines := statementLines(t, 42, 30)
	inner := lineClient(0)
	client := &understandingtest.Client{
		TokensPerCall: 7,
		ExtractFunc: func(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error) {
			if in.Index == 1 {
				return nil, &statement.ServiceError{Op: "extract_transactions", Transient: true, Err: errors.New("503")}
			}
			return inner.ExtractFunc(ctx, in)
		},
	}

	chunks := SplitLines(lines, 10, 1)
	ext, err := New(client, Config{MaxConcurrency: 2}, logger.Discard()).Extract(context.Background(), chunks, nil)
	require.NoError(t, err)

	assert.Len(t, ext.Transactions, 20)
	assert.Equal(t, 4, ext.Usage.Calls)
	require.Len(t, ext.Warnings, 1)
	assert.Contains(t, ext.Warnings[0], "chunk 2 of 4")
}

func TestExtract_PassesHintAndContext(t *testing.T) {
	client := lineClient(0)
	hint := &statement.FormatSpecification{DatePattern: "YYYY-MM-DD"}

	_, err := New(client, Config{MaxConcurrency: 2}, logger.Discard()).
		Extract(context.Background(), SplitLines([]string{header, "a;b;1", "c;d;2"}, 2, 1), hint)
	require.NoError(t, err)

	calls := client.ExtractCalls()
	require.Len(t, calls, 2)
	for _, in := range calls {
		assert.Same(t, hint, in.Hint)
		assert.Equal(t, 2, in.Total)
		if in.Index == 1 {
			assert.Equal(t, header, in.Context)
		}
	}
}

func TestExtract_ContextEnded(t *testing.T) {
	lines := statementLines(t, 7, 40)
	client := lineClient(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(client, Config{MaxConcurrency: 2}, logger.Discard()).Extract(ctx, SplitLines(lines, 5, 1), nil)
	require.Error(t, err)
	assert.True(t, statement.IsRetryable(err))
	assert.ErrorIs(t, err, statement.ErrService)
	assert.Less(t, len(client.ExtractCalls()), 9, "pending chunks are abandoned")
}

func TestExtractSingle_FailureIsEmpty(t *testing.T) {
	client := &understandingtest.Client{
		TokensPerCall: 3,
		ExtractFunc: func(context.Context, understanding.ChunkInput) (*statement.Extraction, error) {
			return nil, &statement.ValidationError{Field: "response", Reason: "malformed response"}
		},
	}
	ext, err := New(client, Config{}, logger.Discard()).
		ExtractSingle(context.Background(), understanding.ChunkInput{Blob: []byte("%PDF"), MIMEType: "application/pdf"})
	require.NoError(t, err)
	assert.Empty(t, ext.Transactions)
	assert.Equal(t, 1, ext.Usage.Calls)
	require.Len(t, ext.Warnings, 1)
	assert.Contains(t, ext.Warnings[0], "malformed response")
}

func TestMergeMetadata(t *testing.T) {
	results := []chunkResult{
		{ext: &statement.Extraction{Metadata: statement.RawMetadata{
			AccountNumber: "PL61", StartDate: "2024-10-05", EndDate: "2024-10-10", OpeningBalance: "100.00", ClosingBalance: "90.00",
		}}},
		{ext: &statement.Extraction{Metadata: statement.RawMetadata{
			AccountNumber: "OTHER", Currency: "PLN", StartDate: "2024-10-01", EndDate: "2024-10-20",
		}}},
		{ext: &statement.Extraction{Metadata: statement.RawMetadata{
			OpeningBalance: "55.00", ClosingBalance: "70.00", EndDate: "October",
		}}},
	}

	m := merge(results).Metadata
	assert.Equal(t, statement.RawMetadata{
		AccountNumber:  "PL61",
		Currency:       "PLN",
		StartDate:      "2024-10-01",
		EndDate:        "2024-10-20",
		OpeningBalance: "100.00",
		ClosingBalance: "70.00",
	}, m)
}
