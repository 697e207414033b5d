// Package understanding is the port to the external document-understanding
// service. It owns the strict response schema and the bounded retry wrapper
// shared by the detector and the chunking extractor.
package understanding

import (
	"context"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// ChunkInput is one extraction request.
type ChunkInput struct {
	// Text is the chunk to extract from.
	Text string
	// Context holds leading document lines repeated for chunks after the
	// first. Transactions in it must not be extracted again.
	Context string
	// Blob is the raw document for image-based extraction.
	Blob     []byte
	MIMEType string
	// Hint is the format specification, when one was detected.
	Hint *statement.FormatSpecification
	// Index and Total locate the chunk in the document, zero-based.
	Index int
	Total int
}

// IsVision reports whether the input carries the raw document instead of text.
func (in ChunkInput) IsVision() bool {
	return len(in.Blob) > 0
}

// Client is the document-understanding service. Implementations must be safe
// for concurrent use.
//
// Usage is reported even when a call fails after the service consumed input.
type Client interface {
	DetectFormat(ctx context.Context, sample string) (*statement.FormatSpecification, statement.Usage, error)
	ExtractTransactions(ctx context.Context, in ChunkInput) (*statement.Extraction, error)
}
