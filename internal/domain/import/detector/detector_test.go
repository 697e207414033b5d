package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding/understandingtest"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

var lines = []string{
	"Numer rachunku;PL61109010140000071219812874",
	"",
	"Data operacji;Opis operacji;Kwota;Saldo po operacji",
	"2024-10-01;ZAKUP KARTA;-45,20;1.954,80",
	"2024-10-02;PRZELEW;-1.234,56;720,24",
}

// partialSpec is what a terse service answer looks like: offsets and
// columns, nothing else.
func partialSpec() *statement.FormatSpecification {
	cols := statement.NoColumns()
	cols.Date = 0
	cols.Description = []int{1}
	cols.Amount = 2
	cols.Balance = 3
	return &statement.FormatSpecification{
		HeaderRow:    2,
		DataStartRow: 3,
		Columns:      cols,
		Sign:         statement.SignSigned,
	}
}

func TestDetect_CompletesFromSniffer(t *testing.T) {
	client := &understandingtest.Client{
		TokensPerCall: 100,
		DetectFunc: func(context.Context, string) (*statement.FormatSpecification, error) {
			return partialSpec(), nil
		},
	}
	d := New(client, nil, Config{SampleLines: 3}, logger.Discard())

	res, err := d.Detect(context.Background(), lines)
	require.NoError(t, err)

	assert.Equal(t, ';', res.Spec.Delimiter)
	assert.Equal(t, ",", res.Spec.Numbers.DecimalSeparator)
	assert.Equal(t, "YYYY-MM-DD", res.Spec.DatePattern)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, res.Usage.Calls)

	require.Len(t, client.DetectCalls(), 1)
	assert.Equal(t, "Numer rachunku;PL61109010140000071219812874\n\nData operacji;Opis operacji;Kwota;Saldo po operacji", client.DetectCalls()[0])
}

func TestDetect_SuggestsColumnsWhenNoneGiven(t *testing.T) {
	client := &understandingtest.Client{
		DetectFunc: func(context.Context, string) (*statement.FormatSpecification, error) {
			return &statement.FormatSpecification{
				HeaderRow:    2,
				DataStartRow: 3,
				Delimiter:    ';',
				Columns:      statement.NoColumns(),
				Sign:         statement.SignSigned,
			}, nil
		},
	}
	res, err := New(client, nil, Config{}, logger.Discard()).Detect(context.Background(), lines)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Spec.Columns.Date)
	assert.Equal(t, 2, res.Spec.Columns.Amount)
	assert.Equal(t, []int{1}, res.Spec.Columns.Description)
}

func TestDetect_Cache(t *testing.T) {
	newClient := func() *understandingtest.Client {
		return &understandingtest.Client{
			DetectFunc: func(context.Context, string) (*statement.FormatSpecification, error) {
				return partialSpec(), nil
			},
		}
	}

	t.Run("enabled", func(t *testing.T) {
		client := newClient()
		d := New(client, cache.New(time.Minute, time.Minute), Config{CacheTTL: time.Minute}, logger.Discard())

		first, err := d.Detect(context.Background(), lines)
		require.NoError(t, err)
		first.Spec.Columns.Description[0] = 99

		second, err := d.Detect(context.Background(), lines)
		require.NoError(t, err)
		assert.True(t, second.Cached)
		assert.Equal(t, []int{1}, second.Spec.Columns.Description)
		assert.Zero(t, second.Usage.Calls)
		assert.Len(t, client.DetectCalls(), 1)
	})

	t.Run("forget evicts the layout", func(t *testing.T) {
		client := newClient()
		d := New(client, cache.New(time.Minute, time.Minute), Config{CacheTTL: time.Minute}, logger.Discard())

		first, err := d.Detect(context.Background(), lines)
		require.NoError(t, err)
		require.NotEmpty(t, first.Key)

		d.Forget(first.Key)
		second, err := d.Detect(context.Background(), lines)
		require.NoError(t, err)
		assert.False(t, second.Cached)
		assert.Equal(t, first.Key, second.Key)
		assert.Len(t, client.DetectCalls(), 2)
	})

	t.Run("forget without a key is a no-op", func(t *testing.T) {
		d := New(newClient(), cache.New(time.Minute, time.Minute), Config{CacheTTL: time.Minute}, logger.Discard())
		assert.NotPanics(t, func() { d.Forget("") })
		assert.NotPanics(t, func() { New(newClient(), nil, Config{}, logger.Discard()).Forget("k") })
	})

	t.Run("disabled by zero ttl", func(t *testing.T) {
		client := newClient()
		d := New(client, cache.New(time.Minute, time.Minute), Config{}, logger.Discard())

		_, err := d.Detect(context.Background(), lines)
		require.NoError(t, err)
		_, err = d.Detect(context.Background(), lines)
		require.NoError(t, err)
		assert.Len(t, client.DetectCalls(), 2)
	})
}

func TestDetect_Failures(t *testing.T) {
	t.Run("service error", func(t *testing.T) {
		client := &understandingtest.Client{
			TokensPerCall: 10,
			DetectFunc: func(context.Context, string) (*statement.FormatSpecification, error) {
				return nil, &statement.ServiceError{Op: "detect_format", Transient: true, Err: errors.New("timeout")}
			},
		}
		res, err := New(client, nil, Config{}, logger.Discard()).Detect(context.Background(), lines)
		assert.ErrorIs(t, err, statement.ErrDetectionFailed)
		assert.ErrorIs(t, err, statement.ErrService)
		assert.Equal(t, 1, res.Usage.Calls)
	})

	t.Run("service reports no layout", func(t *testing.T) {
		client := &understandingtest.Client{}
		_, err := New(client, nil, Config{}, logger.Discard()).Detect(context.Background(), lines)
		var df *statement.DetectionFailure
		require.True(t, errors.As(err, &df))
		assert.Equal(t, "no detector configured", df.Reason)
	})

	t.Run("specification does not fit", func(t *testing.T) {
		client := &understandingtest.Client{
			DetectFunc: func(context.Context, string) (*statement.FormatSpecification, error) {
				spec := partialSpec()
				spec.DataStartRow = 40
				return spec, nil
			},
		}
		_, err := New(client, nil, Config{}, logger.Discard()).Detect(context.Background(), lines)
		assert.ErrorIs(t, err, statement.ErrDetectionFailed)
	})

	t.Run("no lines", func(t *testing.T) {
		client := &understandingtest.Client{}
		_, err := New(client, nil, Config{}, logger.Discard()).Detect(context.Background(), nil)
		assert.ErrorIs(t, err, statement.ErrDetectionFailed)
		assert.Empty(t, client.DetectCalls())
	})
}
