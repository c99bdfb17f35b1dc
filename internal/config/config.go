package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EmbeddingProviderOpenAI  = "openai"
	EmbeddingProviderHashing = "hashing"

	IndexBackendMemory   = "memory"
	IndexBackendPostgres = "postgres"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DocumentsDir   string `envconfig:"DOCUMENTS_DIR"`
	WatchDocuments bool   `envconfig:"WATCH_DOCUMENTS" default:"false"`

	ChunkMaxTokens     int `envconfig:"CHUNK_MAX_TOKENS" default:"200"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"40"`
	TopK               int `envconfig:"TOP_K" default:"5"`
	MaxContextChars    int `envconfig:"MAX_CONTEXT_CHARS" default:"20000"`

	HackRxRetainedDocuments int `envconfig:"HACKRX_RETAINED_DOCUMENTS" default:"16"`

	EmbeddingProvider   string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingBatchSize  int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"64"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL"`
	ChatModel           string `envconfig:"CHAT_MODEL"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`

	IndexBackend string `envconfig:"INDEX_BACKEND" default:"memory"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	S3Endpoint     string        `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string        `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket       string        `envconfig:"S3_BUCKET" default:"policyrag-documents"`
	S3Prefix       string        `envconfig:"S3_PREFIX"`
	S3Region       string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3SyncInterval time.Duration `envconfig:"S3_SYNC_INTERVAL" default:"0"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("POLICYRAG", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks the settings envconfig cannot express.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case EmbeddingProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("invalid config: POLICYRAG_OPENAI_API_KEY is required for the %s embedding provider", c.EmbeddingProvider)
		}
	case EmbeddingProviderHashing:
	default:
		return fmt.Errorf("invalid config: unknown embedding provider %q", c.EmbeddingProvider)
	}

	switch c.IndexBackend {
	case IndexBackendMemory:
	case IndexBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("invalid config: POLICYRAG_DATABASE_URL is required for the %s index backend", c.IndexBackend)
		}
	default:
		return fmt.Errorf("invalid config: unknown index backend %q", c.IndexBackend)
	}

	if c.ChunkMaxTokens <= 0 {
		return fmt.Errorf("invalid config: chunk max tokens must be positive, got %d", c.ChunkMaxTokens)
	}
	if c.ChunkOverlapTokens < 0 {
		return fmt.Errorf("invalid config: chunk overlap tokens must not be negative, got %d", c.ChunkOverlapTokens)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("invalid config: top k must be positive, got %d", c.TopK)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
