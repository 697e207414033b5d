package loader

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

var (
	magicPDF  = []byte("%PDF")
	magicPNG  = []byte("\x89PNG\r\n\x1a\n")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicZIP  = []byte("PK\x03\x04")
	magicOLE2 = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// DetectCategory classifies an upload by magic bytes, then by extension, then
// by sniffing the content type. It returns the category and a MIME type.
func DetectCategory(filename string, content []byte) (statement.Category, string, error) {
	switch {
	case bytes.HasPrefix(content, magicPDF):
		return statement.CategoryPageImage, "application/pdf", nil
	case bytes.HasPrefix(content, magicPNG):
		return statement.CategoryPageImage, "image/png", nil
	case bytes.HasPrefix(content, magicJPEG):
		return statement.CategoryPageImage, "image/jpeg", nil
	case bytes.HasPrefix(content, magicZIP):
		return statement.CategorySpreadsheet, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil
	case bytes.HasPrefix(content, magicOLE2):
		return "", "", fmt.Errorf("%w: legacy .xls workbooks are not supported, save as .xlsx or .csv", statement.ErrUnsupportedDocument)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt", ".tsv":
		return statement.CategoryDelimitedText, "text/csv", nil
	case ".xlsx", ".xlsm":
		return statement.CategorySpreadsheet, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil
	case ".pdf":
		return statement.CategoryPageImage, "application/pdf", nil
	case ".png":
		return statement.CategoryPageImage, "image/png", nil
	case ".jpg", ".jpeg":
		return statement.CategoryPageImage, "image/jpeg", nil
	}

	if len(content) > 0 {
		if ct := http.DetectContentType(content); strings.HasPrefix(ct, "text/") {
			return statement.CategoryDelimitedText, "text/plain", nil
		}
	}

	return "", "", fmt.Errorf("%w: %q", statement.ErrUnsupportedDocument, filename)
}
