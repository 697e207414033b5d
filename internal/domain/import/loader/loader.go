// Package loader turns an uploaded statement into the canonical document the
// extraction pipeline works on: decoded text lines, spreadsheet rows or pages.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Config controls decoding.
type Config struct {
	EncodingPriority []string
	MaxFileSize      int64 // 0 means unlimited
}

// Loader detects the category of an upload and decodes it.
type Loader struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Loader.
func New(cfg Config, logger *slog.Logger) *Loader {
	if len(cfg.EncodingPriority) == 0 {
		cfg.EncodingPriority = DefaultEncodingPriority
	}
	return &Loader{cfg: cfg, logger: logger}
}

// Load classifies content and builds its canonical representation.
func (l *Loader) Load(ctx context.Context, filename string, content []byte) (*statement.Document, error) {
	if l.cfg.MaxFileSize > 0 && int64(len(content)) > l.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", statement.ErrUnsupportedDocument, len(content), l.cfg.MaxFileSize)
	}

	category, mimeType, err := DetectCategory(filename, content)
	if err != nil {
		return nil, err
	}

	doc := &statement.Document{
		Source: statement.RawDocument{
			Content:  content,
			Category: category,
			Filename: filename,
			MIMEType: mimeType,
		},
	}

	switch category {
	case statement.CategoryDelimitedText:
		text, enc := DecodeText(content, l.cfg.EncodingPriority)
		doc.Source.Encoding = enc
		doc.Lines = SplitLines(text)
		l.logger.DebugContext(ctx, "decoded delimited text",
			"filename", filename,
			"encoding", enc,
			"lines", len(doc.Lines),
		)

	case statement.CategorySpreadsheet:
		rows, sheet, err := readWorkbook(content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", statement.ErrUnsupportedDocument, err)
		}
		doc.Rows = rows
		doc.SheetName = sheet
		doc.Lines = RenderTabs(rows)
		l.logger.DebugContext(ctx, "decoded workbook",
			"filename", filename,
			"sheet", sheet,
			"rows", len(rows),
		)

	case statement.CategoryPageImage:
		if mimeType != "application/pdf" {
			doc.Pages = []statement.Page{{Number: 1}}
			break
		}
		pages, err := readPDFPages(content)
		if err != nil {
			// The vision path still works from the raw bytes.
			l.logger.WarnContext(ctx, "pdf text extraction failed",
				"filename", filename,
				"error", err,
			)
			pages = []statement.Page{{Number: 1}}
		}
		doc.Pages = pages
		l.logger.DebugContext(ctx, "decoded pdf",
			"filename", filename,
			"pages", len(pages),
			"has_text", doc.HasPageText(),
		)
	}

	return doc, nil
}
