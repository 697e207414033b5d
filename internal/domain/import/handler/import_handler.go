// Package handler exposes the conversion service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/service"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
	"github.com/kamilgrymuza/csv2mt/pkg/logger"
)

// Response headers set on a successful conversion.
const (
	HeaderParsingMethod    = "X-Parsing-Method"
	HeaderTransactionCount = "X-Transaction-Count"
	HeaderBalanceMismatch  = "X-Balance-Mismatch"
)

const codeUploadTooLarge = "upload_too_large"
const codeBadRequest = "bad_request"

// Converter runs one conversion.
type Converter interface {
	Convert(ctx context.Context, req service.Request) (*service.Conversion, error)
}

// BankLister lists the bank export templates a conversion may select.
type BankLister interface {
	SupportedBanks() []string
}

var (
	_ Converter  = (*service.ConversionService)(nil)
	_ BankLister = (*service.ConversionService)(nil)
)

// ConversionHandler handles statement uploads
type ConversionHandler struct {
	svc            Converter
	banks          BankLister // Optional: nil lists no banks
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewConversionHandler creates a new conversion handler
func NewConversionHandler(svc Converter, maxUploadBytes int64, logger *slog.Logger) *ConversionHandler {
	return &ConversionHandler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// WithBanks adds the bank template listing to the handler
func (h *ConversionHandler) WithBanks(banks BankLister) *ConversionHandler {
	h.banks = banks
	return h
}

// Routes mounts the conversion endpoints on r.
func (h *ConversionHandler) Routes(r chi.Router) {
	r.Post("/conversion/mt940", h.ConvertMT940)
	r.Post("/conversion/csv-to-mt940", h.ConvertBankCSV)
	r.Get("/conversion/supported-banks", h.SupportedBanks)
}

// ConvertMT940 accepts a multipart upload in field "file" and answers with
// the MT940 text as an attachment.
func (h *ConversionHandler) ConvertMT940(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, false)
}

// ConvertBankCSV converts a CSV export with the template named by the
// "bank_name" form field.
func (h *ConversionHandler) ConvertBankCSV(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, true)
}

// SupportedBanks answers with the JSON list of bank template names.
func (h *ConversionHandler) SupportedBanks(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.banks != nil {
		names = h.banks.SupportedBanks()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(names); err != nil {
		logger.FromContext(r.Context(), h.logger).Warn("failed to write response", "error", err)
	}
}

func (h *ConversionHandler) convert(w http.ResponseWriter, r *http.Request, withBank bool) {
	log := logger.FromContext(r.Context(), h.logger)

	// The multipart envelope needs some room on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+64<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("upload exceeds limit", "limit", h.maxUploadBytes)
			writeError(w, http.StatusRequestEntityTooLarge, codeUploadTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		log.Warn("failed to read upload", "error", err)
		writeError(w, http.StatusBadRequest, codeBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		log.Warn("upload exceeds limit", "size", header.Size, "limit", h.maxUploadBytes)
		writeError(w, http.StatusRequestEntityTooLarge, codeUploadTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		log.Warn("failed to read upload", "error", err)
		writeError(w, http.StatusBadRequest, codeBadRequest, "upload could not be read")
		return
	}

	var bank string
	if withBank {
		if bank = strings.TrimSpace(r.FormValue("bank_name")); bank == "" {
			writeError(w, http.StatusBadRequest, codeBadRequest, "form field \"bank_name\" is required")
			return
		}
	}

	log.Info("converting statement", "filename", header.Filename, "size", len(content), "bank", bank)

	conv, err := h.svc.Convert(r.Context(), service.Request{
		Filename:      header.Filename,
		Content:       content,
		AccountNumber: strings.TrimSpace(r.FormValue("account_number")),
		Bank:          bank,
	})
	if err != nil {
		code := statement.ErrorCode(err)
		status := StatusFor(code)
		if status >= http.StatusInternalServerError {
			log.Error("conversion failed", "filename", header.Filename, "error_code", code, "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	outcome := conv.Outcome
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", AttachmentName(header.Filename)))
	w.Header().Set(HeaderParsingMethod, string(outcome.Method))
	w.Header().Set(HeaderTransactionCount, strconv.Itoa(outcome.TransactionCount()))
	if outcome.Ledger != nil && outcome.Ledger.Balance != nil && !outcome.Ledger.Balance.OK {
		w.Header().Set(HeaderBalanceMismatch, outcome.Ledger.Balance.Difference.StringFixed(2))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, conv.Output.Text); err != nil {
		log.Warn("failed to write response", "error", err)
	}
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case statement.CodeEmptyStatement, statement.CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case statement.CodeUnsupportedDocument:
		return http.StatusUnsupportedMediaType
	case statement.CodeUnknownBank:
		return http.StatusBadRequest
	case statement.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AttachmentName replaces the extension of the uploaded name with .mt940.
func AttachmentName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "statement"
	}
	return base + ".mt940"
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: code, Message: message})
}
