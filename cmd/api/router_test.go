package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding/understandingtest"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/config"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

func testConfig(csvPath string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RateLimitPerSecond: 100,
			RateLimitBurst:     100,
			AllowedOrigins:     []string{"http://localhost:3000"},
			RequestTimeout:     10 * time.Second,
			MaxUploadBytes:     1 << 20,
		},
		Extraction: config.ExtractionConfig{
			LineThreshold:        120,
			PageThreshold:        5,
			ChunkLines:           100,
			ChunkContextLines:    20,
			ChunkPages:           3,
			MaxConcurrency:       2,
			CallTimeout:          time.Second,
			RetryAttempts:        1,
			DetectionSampleLines: 50,
			DefaultCurrency:      "PLN",
			FormatCacheTTL:       time.Minute,
		},
		Encoder: config.EncoderConfig{TransactionTypeCode: "NMSC", LineSeparator: "\n"},
		Observability: config.ObservabilityConfig{
			MetricsEnabled: true,
			UsageCSVPath:   csvPath,
		},
	}
}

func newTestDeps(t *testing.T) *Dependencies {
	t.Helper()
	client := &understandingtest.Client{
		DetectFunc: func(context.Context, string) (*statement.FormatSpecification, error) {
			cols := statement.NoColumns()
			cols.Date = 0
			cols.Description = []int{1}
			cols.Amount = 2
			return &statement.FormatSpecification{
				DataStartRow: 1,
				Delimiter:    ';',
				Columns:      cols,
				DatePattern:  "YYYY-MM-DD",
				Numbers:      statement.NumberConvention{DecimalSeparator: ","},
				Sign:         statement.SignSigned,
			}, nil
		},
	}

	deps := &Dependencies{
		Config:        testConfig(filepath.Join(t.TempDir(), "usage.csv")),
		Logger:        logger.Discard(),
		Understanding: client,
	}
	require.NoError(t, deps.initRecorders())
	require.NoError(t, deps.initServices())
	require.NoError(t, deps.initHandlers())
	t.Cleanup(deps.Cleanup)
	return deps
}

func postStatement(t *testing.T, url, filename string, content []byte) *http.Response {
	t.Helper()
	return postUpload(t, url+"/api/conversion/mt940", filename, content, nil)
}

func postUpload(t *testing.T, url, filename string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestRouter(t *testing.T) {
	deps := newTestDeps(t)
	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("conversion then metrics", func(t *testing.T) {
		resp := postStatement(t, srv.URL, "wyciag.csv", []byte("Data;Opis;Kwota\n2024-10-01;Zakup;-12,50\n2024-10-02;Wplata;100,00\n"))
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), ":61:2410011001D12,50NMSCNONREF\n")
		assert.Equal(t, "2", resp.Header.Get("X-Transaction-Count"))

		resp, err = http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		metrics, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Contains(t, string(metrics), `csv2mt_conversions_total{method="format_spec_python",outcome="success"} 1`)
		assert.Contains(t, string(metrics), "go_goroutines")
	})

	t.Run("bank templates", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/conversion/supported-banks")
		require.NoError(t, err)
		var names []string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
		resp.Body.Close()
		assert.Equal(t, []string{"mbank", "santander"}, names)

		export := strings.Join([]string{
			"2024-10-31,01-10-2024,'61109010140000071219812874',JAN KOWALSKI,PLN,\"1000,00\",\"3454,80\",2",
			"01-10-2024,30-09-2024,Zakup BIEDRONKA,,,\"-45,20\",\"954,80\",1",
			"02-10-2024,02-10-2024,Wynagrodzenie,ACME,,\"2500,00\",\"3454,80\",2",
		}, "\n")
		resp = postUpload(t, srv.URL+"/api/conversion/csv-to-mt940", "santander.csv", []byte(export), map[string]string{"bank_name": "Santander"})
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, "bank_template", resp.Header.Get("X-Parsing-Method"))
		assert.Equal(t, "2", resp.Header.Get("X-Transaction-Count"))
		assert.Empty(t, resp.Header.Get("X-Balance-Mismatch"))
		assert.Contains(t, string(body), ":25:/61109010140000071219812874\n")
		assert.Contains(t, string(body), "PLN3454,80\n")
		assert.Empty(t, deps.Understanding.(*understandingtest.Client).ExtractCalls())

		resp = postUpload(t, srv.URL+"/api/conversion/csv-to-mt940", "x.csv", []byte(export), map[string]string{"bank_name": "ing"})
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("cors preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/conversion/mt940", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestRouter_MetricsDisabled(t *testing.T) {
	deps := &Dependencies{
		Config:        testConfig(""),
		Logger:        logger.Discard(),
		Understanding: &understandingtest.Client{},
	}
	deps.Config.Observability.MetricsEnabled = false
	require.NoError(t, deps.initRecorders())
	require.NoError(t, deps.initServices())
	require.NoError(t, deps.initHandlers())

	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, deps.Recorder, 1)
}
