package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Gemini        GeminiConfig
	Extraction    ExtractionConfig
	Encoder       EncoderConfig
	Observability ObservabilityConfig
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	RequestTimeout     time.Duration
	MaxUploadBytes     int64
}

// ExtractionConfig tunes the method ladder and the chunk fan-out.
type ExtractionConfig struct {
	LineThreshold        int // text/spreadsheet sources below this many lines are "small"
	PageThreshold        int // page-image sources below this many pages are "small"
	ChunkLines           int
	ChunkContextLines    int
	ChunkPages           int
	MaxConcurrency       int
	CallTimeout          time.Duration
	RetryAttempts        int
	RetryBackoff         time.Duration
	DetectionSampleLines int
	DefaultCurrency      string
	FormatCacheTTL       time.Duration // 0 disables the format cache
	EncodingPriority     []string
}

type EncoderConfig struct {
	MaxTransactionsPerMessage int // 0 means a single message
	TransactionTypeCode       string
	LineSeparator             string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	UsageCSVPath   string
	LogLevel       string
	LogFormat      string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
			AllowedOrigins:     getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RequestTimeout:     getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 5*time.Minute),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_BYTES", 20<<20)),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", ""),
		},
		Extraction: ExtractionConfig{
			LineThreshold:        getEnvAsInt("EXTRACTION_LINE_THRESHOLD", 120),
			PageThreshold:        getEnvAsInt("EXTRACTION_PAGE_THRESHOLD", 5),
			ChunkLines:           getEnvAsInt("EXTRACTION_CHUNK_LINES", 100),
			ChunkContextLines:    getEnvAsInt("EXTRACTION_CHUNK_CONTEXT_LINES", 20),
			ChunkPages:           getEnvAsInt("EXTRACTION_CHUNK_PAGES", 3),
			MaxConcurrency:       getEnvAsInt("EXTRACTION_MAX_CONCURRENCY", 4),
			CallTimeout:          getEnvAsDuration("EXTRACTION_CALL_TIMEOUT", 90*time.Second),
			RetryAttempts:        getEnvAsInt("EXTRACTION_RETRY_ATTEMPTS", 3),
			RetryBackoff:         getEnvAsDuration("EXTRACTION_RETRY_BACKOFF", 500*time.Millisecond),
			DetectionSampleLines: getEnvAsInt("EXTRACTION_DETECTION_SAMPLE_LINES", 50),
			DefaultCurrency:      getEnv("EXTRACTION_DEFAULT_CURRENCY", "PLN"),
			FormatCacheTTL:       getEnvAsDuration("EXTRACTION_FORMAT_CACHE_TTL", 0),
			EncodingPriority:     getEnvAsList("EXTRACTION_ENCODING_PRIORITY", []string{"windows-1250", "iso-8859-2", "windows-1252"}),
		},
		Encoder: EncoderConfig{
			MaxTransactionsPerMessage: getEnvAsInt("MT940_MAX_TRANSACTIONS_PER_MESSAGE", 0),
			TransactionTypeCode:       getEnv("MT940_TRANSACTION_TYPE_CODE", "NMSC"),
			LineSeparator:             lineSeparator(getEnv("MT940_LINE_SEPARATOR", "lf")),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			UsageCSVPath:   getEnv("USAGE_CSV_PATH", ""),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	if c.Gemini.Model == "" {
		return errors.New("GEMINI_MODEL is required")
	}

	e := c.Extraction
	positive := map[string]int{
		"EXTRACTION_LINE_THRESHOLD":         e.LineThreshold,
		"EXTRACTION_PAGE_THRESHOLD":         e.PageThreshold,
		"EXTRACTION_CHUNK_LINES":            e.ChunkLines,
		"EXTRACTION_CHUNK_PAGES":            e.ChunkPages,
		"EXTRACTION_MAX_CONCURRENCY":        e.MaxConcurrency,
		"EXTRACTION_RETRY_ATTEMPTS":         e.RetryAttempts,
		"EXTRACTION_DETECTION_SAMPLE_LINES": e.DetectionSampleLines,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	if e.ChunkContextLines < 0 {
		return fmt.Errorf("EXTRACTION_CHUNK_CONTEXT_LINES must not be negative, got %d", e.ChunkContextLines)
	}
	if e.CallTimeout <= 0 {
		return errors.New("EXTRACTION_CALL_TIMEOUT must be positive")
	}
	if c.Encoder.MaxTransactionsPerMessage < 0 {
		return errors.New("MT940_MAX_TRANSACTIONS_PER_MESSAGE must not be negative")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("SERVER_MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func lineSeparator(name string) string {
	switch strings.ToLower(name) {
	case "crlf":
		return "\r\n"
	default:
		return "\n"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
