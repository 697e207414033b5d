package understanding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// generator is the part of the genai SDK the adapter needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClient implements Client on the Gemini API.
type GeminiClient struct {
	models generator
	model  string
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini-backed understanding client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg.Model, logger), nil
}

func newGeminiClient(models generator, model string, logger *slog.Logger) *GeminiClient {
	return &GeminiClient{
		models: models,
		model:  model,
		logger: logger,
	}
}

// DetectFormat asks the service for a format specification of sample.
func (c *GeminiClient) DetectFormat(ctx context.Context, sample string) (*statement.FormatSpecification, statement.Usage, error) {
	text, usage, err := c.generate(ctx, "detect_format", []*genai.Part{{Text: buildDetectPrompt(sample)}})
	if err != nil {
		return nil, usage, err
	}

	spec, err := decodeFormatSpecification(text)
	if err != nil {
		c.logger.Warn("detect_format response rejected", "error", err)
		return nil, usage, err
	}
	return spec, usage, nil
}

// ExtractTransactions extracts the transactions of one chunk, or of the whole
// attached document for vision input.
func (c *GeminiClient) ExtractTransactions(ctx context.Context, in ChunkInput) (*statement.Extraction, error) {
	parts := []*genai.Part{{Text: buildExtractPrompt(in)}}
	if in.IsVision() {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: in.MIMEType,
				Data:     in.Blob,
			},
		})
	}

	text, usage, err := c.generate(ctx, "extract_transactions", parts)
	if err != nil {
		return &statement.Extraction{Usage: usage}, err
	}

	ext, err := decodeExtraction(text)
	if err != nil {
		c.logger.Warn("extract_transactions response rejected",
			"chunk", in.Index,
			"error", err,
		)
		return &statement.Extraction{Usage: usage}, err
	}
	ext.Usage = usage
	return ext, nil
}

func (c *GeminiClient) generate(ctx context.Context, op string, parts []*genai.Part) (string, statement.Usage, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: parts,
		},
	}
	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", statement.Usage{}, serviceError(op, err)
	}

	usage := statement.Usage{Calls: 1}
	if md := resp.UsageMetadata; md != nil {
		usage.InputTokens = int(md.PromptTokenCount)
		usage.OutputTokens = int(md.CandidatesTokenCount)
	}

	c.logger.Debug("understanding service call completed",
		slog.String("op", op),
		slog.String("model", c.model),
		slog.Int("input_tokens", usage.InputTokens),
		slog.Int("output_tokens", usage.OutputTokens),
		slog.Duration("duration", time.Since(start)),
	)
	return resp.Text(), usage, nil
}

// serviceError wraps a transport failure. Client errors other than timeouts
// and rate limiting will not succeed on retry.
func serviceError(op string, err error) error {
	transient := true
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		transient = apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusTooManyRequests
	}
	return &statement.ServiceError{Op: op, Transient: transient, Err: err}
}
