package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/service"
	"github.com/kamilgrymuza/csv2mt/internal/domain/mt940"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

type converterFunc func(ctx context.Context, req service.Request) (*service.Conversion, error)

func (f converterFunc) Convert(ctx context.Context, req service.Request) (*service.Conversion, error) {
	return f(ctx, req)
}

func upload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/conversion/mt940", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h *ConversionHandler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger.Discard()))
	r.Route("/api", h.Routes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestConvertMT940_Success(t *testing.T) {
	var got service.Request
	svc := converterFunc(func(ctx context.Context, req service.Request) (*service.Conversion, error) {
		got = req
		return &service.Conversion{
			Outcome: statement.ExtractionOutcome{
				Method: statement.MethodFormatSpecPython,
				Ledger: &statement.Ledger{
					Transactions: make([]statement.Transaction, 3),
					Balance:      &statement.BalanceCheck{OK: true},
				},
			},
			Output: &mt940.Result{Text: ":20:241001-WYCIAG\n-\n"},
		}, nil
	})

	h := NewConversionHandler(svc, 1<<20, logger.Discard())
	rec := serve(h, upload(t, "wyciag.csv", []byte("a;b\n"), map[string]string{"account_number": " PL61 1090 "}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ":20:241001-WYCIAG\n-\n", rec.Body.String())
	assert.Equal(t, `attachment; filename="wyciag.mt940"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "format_spec_python", rec.Header().Get(HeaderParsingMethod))
	assert.Equal(t, "3", rec.Header().Get(HeaderTransactionCount))
	assert.Empty(t, rec.Header().Get(HeaderBalanceMismatch))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	assert.Equal(t, "wyciag.csv", got.Filename)
	assert.Equal(t, []byte("a;b\n"), got.Content)
	assert.Equal(t, "PL61 1090", got.AccountNumber)
}

func TestConvertMT940_BalanceMismatch(t *testing.T) {
	svc := converterFunc(func(context.Context, service.Request) (*service.Conversion, error) {
		return &service.Conversion{
			Outcome: statement.ExtractionOutcome{
				Method: statement.MethodPDFVision,
				Ledger: &statement.Ledger{
					Transactions: make([]statement.Transaction, 1),
					Balance:      &statement.BalanceCheck{Difference: decimal.RequireFromString("-12.5")},
				},
			},
			Output: &mt940.Result{Text: "-\n"},
		}, nil
	})

	rec := serve(NewConversionHandler(svc, 1<<20, logger.Discard()), upload(t, "scan.pdf", []byte("%PDF"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-12.50", rec.Header().Get(HeaderBalanceMismatch))
}

func TestConvertMT940_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty statement", &statement.EmptyStatementError{Attempted: []statement.ParsingMethod{statement.MethodPDFVision}}, http.StatusUnprocessableEntity, statement.CodeEmptyStatement},
		{"validation", &statement.ValidationError{Field: "date", Reason: "unparseable"}, http.StatusUnprocessableEntity, statement.CodeValidationFailed},
		{"unsupported", statement.ErrUnsupportedDocument, http.StatusUnsupportedMediaType, statement.CodeUnsupportedDocument},
		{"service", &statement.ServiceError{Op: "extract", Transient: true, Err: errors.New("503")}, http.StatusServiceUnavailable, statement.CodeServiceUnavailable},
		{"encoding", &statement.EncodingError{Field: "25", Reason: "too long"}, http.StatusInternalServerError, statement.CodeEncodingFailed},
		{"detection", &statement.DetectionFailure{Reason: "no spec"}, http.StatusInternalServerError, statement.CodeDetectionFailed},
		{"unknown bank", fmt.Errorf("%w: \"ing\"", statement.ErrUnknownBank), http.StatusBadRequest, statement.CodeUnknownBank},
		{"other", errors.New("boom"), http.StatusInternalServerError, statement.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := converterFunc(func(context.Context, service.Request) (*service.Conversion, error) {
				return &service.Conversion{}, tt.err
			})
			rec := serve(NewConversionHandler(svc, 1<<20, logger.Discard()), upload(t, "a.csv", []byte("x"), nil))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.err.Error(), body.Message)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestConvertMT940_MissingFile(t *testing.T) {
	called := false
	svc := converterFunc(func(context.Context, service.Request) (*service.Conversion, error) {
		called = true
		return nil, nil
	})
	rec := serve(NewConversionHandler(svc, 1<<20, logger.Discard()), upload(t, "", nil, map[string]string{"account_number": "x"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeBadRequest, decodeError(t, rec).Code)
	assert.False(t, called)
}

func TestConvertMT940_TooLarge(t *testing.T) {
	svc := converterFunc(func(context.Context, service.Request) (*service.Conversion, error) {
		t.Fatal("service must not be called")
		return nil, nil
	})
	h := NewConversionHandler(svc, 1024, logger.Discard())

	t.Run("within envelope slack", func(t *testing.T) {
		rec := serve(h, upload(t, "big.csv", bytes.Repeat([]byte("a"), 4096), nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, codeUploadTooLarge, decodeError(t, rec).Code)
	})

	t.Run("beyond body limit", func(t *testing.T) {
		rec := serve(h, upload(t, "huge.csv", bytes.Repeat([]byte("a"), 128<<10), nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, codeUploadTooLarge, decodeError(t, rec).Code)
	})
}

type bankList []string

func (b bankList) SupportedBanks() []string { return b }

func TestConvertBankCSV(t *testing.T) {
	var got service.Request
	svc := converterFunc(func(ctx context.Context, req service.Request) (*service.Conversion, error) {
		got = req
		return &service.Conversion{
			Outcome: statement.ExtractionOutcome{
				Method: statement.MethodBankTemplate,
				Ledger: &statement.Ledger{Transactions: make([]statement.Transaction, 2)},
			},
			Output: &mt940.Result{Text: "-\n"},
		}, nil
	})
	h := NewConversionHandler(svc, 1<<20, logger.Discard())

	t.Run("passes the bank", func(t *testing.T) {
		req := upload(t, "export.csv", []byte("x"), map[string]string{"bank_name": " mBank "})
		req.URL.Path = "/api/conversion/csv-to-mt940"
		rec := serve(h, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "mBank", got.Bank)
		assert.Equal(t, "bank_template", rec.Header().Get(HeaderParsingMethod))
		assert.Equal(t, `attachment; filename="export.mt940"`, rec.Header().Get("Content-Disposition"))
	})

	t.Run("bank is required", func(t *testing.T) {
		got = service.Request{}
		req := upload(t, "export.csv", []byte("x"), nil)
		req.URL.Path = "/api/conversion/csv-to-mt940"
		rec := serve(h, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeBadRequest, decodeError(t, rec).Code)
		assert.Empty(t, got.Filename)
	})

	t.Run("general route ignores bank_name", func(t *testing.T) {
		rec := serve(h, upload(t, "export.csv", []byte("x"), map[string]string{"bank_name": "mbank"}))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, got.Bank)
	})
}

func TestSupportedBanks(t *testing.T) {
	list := func(h *ConversionHandler) []string {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/conversion/supported-banks", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var names []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
		return names
	}

	h := NewConversionHandler(converterFunc(nil), 1<<20, logger.Discard())
	assert.Equal(t, []string{}, list(h))
	assert.Equal(t, []string{"mbank", "santander"}, list(h.WithBanks(bankList{"mbank", "santander"})))
}

func TestAttachmentName(t *testing.T) {
	tests := map[string]string{
		"wyciag.csv":                  "wyciag.mt940",
		`C:\Users\jan\ING_2024.xlsx`:  "ING_2024.mt940",
		"/tmp/statement.2024-10.pdf":  "statement.2024-10.mt940",
		"noext":                       "noext.mt940",
		"":                            "statement.mt940",
		".csv":                        "statement.mt940",
	}
	for in, want := range tests {
		assert.Equal(t, want, AttachmentName(in), in)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.0001), 2)
	h := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewWithWriter(&buf, "info", "text")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(base))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context(), nil).Info("inside")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "request_id=req-42")
}
