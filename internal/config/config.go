// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the localrag service.
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	APIKey      string `env:"API_KEY"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Corpus
	DataFolder     string `env:"DATA_FOLDER" envDefault:"data"`
	CollectionName string `env:"COLLECTION_NAME" envDefault:"localrag"`

	// PostgreSQL catalog (optional; empty disables the catalog)
	DatabaseURL string `env:"DATABASE_URL"`

	// Qdrant
	QdrantGRPCURL string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334"`

	// Ollama
	OllamaURL            string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaEmbeddingModel string `env:"OLLAMA_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	OllamaLLMModel       string `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.2"`

	// Chunking
	MaxChunkSize  int  `env:"MAX_CHUNK_SIZE" envDefault:"50"`
	MinChunkSize  int  `env:"MIN_CHUNK_SIZE" envDefault:"10"`
	OverlapSize   int  `env:"OVERLAP_SIZE" envDefault:"10"`
	SentenceSplit bool `env:"SENTENCE_SPLIT" envDefault:"true"`

	// Retrieval
	MaxResults            int     `env:"MAX_RESULTS" envDefault:"150"`
	MinSimilarity         float32 `env:"MIN_SIMILARITY" envDefault:"0.15"`
	SimilarityRelaxFactor float32 `env:"SIMILARITY_RELAX_FACTOR" envDefault:"0.8"`
	Tier2Floor            float32 `env:"TIER2_FLOOR" envDefault:"0.05"`
	FallbackEnabled       bool    `env:"FALLBACK_ENABLED" envDefault:"true"`
	FallbackLimit         int     `env:"FALLBACK_LIMIT" envDefault:"50"`

	// Context assembly
	MaxContextChars int `env:"MAX_CONTEXT_CHARS" envDefault:"8000"`
	CandidateCap    int `env:"CANDIDATE_CAP" envDefault:"30"`
	KeywordTopN     int `env:"KEYWORD_TOP_N" envDefault:"20"`

	// Generation
	Temperature   float32 `env:"TEMPERATURE" envDefault:"0.1"`
	TopP          float32 `env:"TOP_P" envDefault:"0.8"`
	RepeatPenalty float32 `env:"REPEAT_PENALTY" envDefault:"1.1"`
	MaxTokens     int     `env:"MAX_TOKENS" envDefault:"500"`

	// External call timeouts. The upstream services impose no bounds of
	// their own, so every call out of the process carries one of these.
	EmbedTimeout    time.Duration `env:"EMBED_TIMEOUT" envDefault:"30s"`
	SearchTimeout   time.Duration `env:"SEARCH_TIMEOUT" envDefault:"10s"`
	GenerateTimeout time.Duration `env:"GENERATE_TIMEOUT" envDefault:"5m"`
}

// Load loads configuration from .env file (if present) and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.MinChunkSize <= 0 || c.MinChunkSize > c.MaxChunkSize {
		return fmt.Errorf("MIN_CHUNK_SIZE must be in [1, MAX_CHUNK_SIZE], got %d", c.MinChunkSize)
	}
	if c.OverlapSize < 0 || c.OverlapSize >= c.MaxChunkSize {
		return fmt.Errorf("OVERLAP_SIZE must be in [0, MAX_CHUNK_SIZE), got %d", c.OverlapSize)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("MIN_SIMILARITY must be in [0, 1], got %g", c.MinSimilarity)
	}
	if c.SimilarityRelaxFactor <= 0 || c.SimilarityRelaxFactor > 1 {
		return fmt.Errorf("SIMILARITY_RELAX_FACTOR must be in (0, 1], got %g", c.SimilarityRelaxFactor)
	}
	if c.FallbackLimit <= 0 {
		return fmt.Errorf("FALLBACK_LIMIT must be positive, got %d", c.FallbackLimit)
	}
	if c.MaxContextChars <= 0 {
		return fmt.Errorf("MAX_CONTEXT_CHARS must be positive, got %d", c.MaxContextChars)
	}
	return nil
}
