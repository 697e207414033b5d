// Package understandingtest provides a scriptable understanding.Client for tests.
package understandingtest

import (
	"context"
	"sync"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/understanding"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Client is a fake understanding.Client. Nil funcs answer with a
// DetectionFailure and an empty extraction.
type Client struct {
	DetectFunc  func(ctx context.Context, sample string) (*statement.FormatSpecification, error)
	ExtractFunc func(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error)
	// TokensPerCall is reported as input and output usage of every call.
	TokensPerCall int

	mu      sync.Mutex
	samples []string
	inputs  []understanding.ChunkInput
}

var _ understanding.Client = (*Client)(nil)

func (c *Client) DetectFormat(ctx context.Context, sample string) (*statement.FormatSpecification, statement.Usage, error) {
	c.mu.Lock()
	c.samples = append(c.samples, sample)
	c.mu.Unlock()

	usage := c.usage()
	if c.DetectFunc == nil {
		return nil, usage, &statement.DetectionFailure{Reason: "no detector configured"}
	}
	spec, err := c.DetectFunc(ctx, sample)
	return spec, usage, err
}

func (c *Client) ExtractTransactions(ctx context.Context, in understanding.ChunkInput) (*statement.Extraction, error) {
	c.mu.Lock()
	c.inputs = append(c.inputs, in)
	c.mu.Unlock()

	usage := c.usage()
	if c.ExtractFunc == nil {
		return &statement.Extraction{Usage: usage}, nil
	}
	ext, err := c.ExtractFunc(ctx, in)
	if ext == nil {
		ext = &statement.Extraction{}
	}
	ext.Usage = usage
	return ext, err
}

// DetectCalls returns the samples passed to DetectFormat, in call order.
func (c *Client) DetectCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.samples...)
}

// ExtractCalls returns the inputs passed to ExtractTransactions, in call order.
func (c *Client) ExtractCalls() []understanding.ChunkInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]understanding.ChunkInput(nil), c.inputs...)
}

func (c *Client) usage() statement.Usage {
	return statement.Usage{InputTokens: c.TokensPerCall, OutputTokens: c.TokensPerCall, Calls: 1}
}
