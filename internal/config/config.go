// Package config loads the in-process tunables consumed by the
// acquisition, extraction, and canonicalization components: rate
// limits, circuit-breaker thresholds, cache sizing, batch
// concurrency, and confidence thresholds. Top-level application
// configuration (CLI flags, server config) is out of scope here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable these components read at construction
// time.
type Config struct {
	Sources  SourcesConfig  `yaml:"sources"`
	Cache    CacheConfig    `yaml:"cache"`
	Batch    BatchConfig    `yaml:"batch"`
	Matching MatchingConfig `yaml:"matching"`
	LLM      LLMConfig      `yaml:"llm"`
	Graph    GraphConfig    `yaml:"graph"`
}

// SourceConfig is the per-bibliographic-source tunable set: rate
// limit, burst, circuit-breaker thresholds, and retry policy.
type SourceConfig struct {
	BaseURL          string        `yaml:"base_url"`
	RateLimitPerSec  float64       `yaml:"rate_limit_per_sec"`
	Burst            int           `yaml:"burst"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	BreakerWindow    time.Duration `yaml:"breaker_window"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
}

// SourcesConfig groups the per-source settings.
type SourcesConfig struct {
	SemanticScholar SourceConfig `yaml:"semantic_scholar"`
	Arxiv           SourceConfig `yaml:"arxiv"`
	OpenAlex        SourceConfig `yaml:"openalex"`
	OpenAlexMailto  string       `yaml:"openalex_mailto"`
}

// CacheConfig configures both the response cache and the PDF cache.
type CacheConfig struct {
	Directory   string        `yaml:"directory"`
	MaxPDFBytes int64         `yaml:"max_pdf_bytes"`
	PaperTTL    time.Duration `yaml:"paper_ttl"`
	SearchTTL   time.Duration `yaml:"search_ttl"`
	AuthorTTL   time.Duration `yaml:"author_ttl"`
}

// BatchConfig configures the batch job queue and processor.
type BatchConfig struct {
	DBPath        string        `yaml:"db_path"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	StoreToKG     bool          `yaml:"store_to_kg"`
}

// MatchingConfig configures the problem extractor, relation
// extractor, and concept matcher.
type MatchingConfig struct {
	MinConfidence         float64 `yaml:"min_confidence"`
	MaxProblemsPerSection int     `yaml:"max_problems_per_section"`
	MaxSectionPriority    int     `yaml:"max_section_priority"`
	RelationSimilarity    float64 `yaml:"relation_similarity_threshold"`
	RelationMinConfidence float64 `yaml:"relation_min_confidence"`
	EmbeddingDimension    int     `yaml:"embedding_dimension"`
	TopK                  int     `yaml:"top_k"`
	CitationBoost         float64 `yaml:"citation_boost"`
}

// LLMConfig configures the structured-extraction and embedding
// providers.
type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	EmbeddingKey string `yaml:"embedding_key"`
}

// GraphConfig configures the Neo4j connection consumed by the
// repository.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns a configuration with sane defaults for local
// development.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".agentic-kg", "cache")
	return &Config{
		Sources: SourcesConfig{
			SemanticScholar: SourceConfig{
				BaseURL: "https://api.semanticscholar.org/graph/v1",
				RateLimitPerSec: 1, Burst: 1, Timeout: 15 * time.Second,
				FailureThreshold: 5, BreakerWindow: time.Minute, BreakerCooldown: 30 * time.Second,
				MaxRetries: 3, RetryBaseDelay: 500 * time.Millisecond,
			},
			Arxiv: SourceConfig{
				BaseURL: "http://export.arxiv.org/api/query",
				RateLimitPerSec: 1.0 / 3.0, Burst: 1, Timeout: 20 * time.Second,
				FailureThreshold: 5, BreakerWindow: time.Minute, BreakerCooldown: 30 * time.Second,
				MaxRetries: 3, RetryBaseDelay: 500 * time.Millisecond,
			},
			OpenAlex: SourceConfig{
				BaseURL: "https://api.openalex.org",
				RateLimitPerSec: 10, Burst: 5, Timeout: 15 * time.Second,
				FailureThreshold: 5, BreakerWindow: time.Minute, BreakerCooldown: 30 * time.Second,
				MaxRetries: 3, RetryBaseDelay: 500 * time.Millisecond,
			},
		},
		Cache: CacheConfig{
			Directory:   cacheDir,
			MaxPDFBytes: 2 * 1024 * 1024 * 1024,
			PaperTTL:    30 * 24 * time.Hour,
			SearchTTL:   time.Hour,
			AuthorTTL:   7 * 24 * time.Hour,
		},
		Batch: BatchConfig{
			DBPath:        filepath.Join(cacheDir, "batch.db"),
			MaxConcurrent: 4,
			MaxRetries:    2,
			RetryDelay:    2 * time.Second,
			StoreToKG:     true,
		},
		Matching: MatchingConfig{
			MinConfidence:         0.5,
			MaxProblemsPerSection: 10,
			MaxSectionPriority:    100,
			RelationSimilarity:    0.7,
			RelationMinConfidence: 0.5,
			EmbeddingDimension:    1536,
			TopK:                  10,
			CitationBoost:         0.20,
		},
		Graph: GraphConfig{
			Database: "neo4j",
		},
	}
}

// Load reads .env files, then a YAML config (if present), then
// applies environment-variable overrides, in that order of increasing
// precedence.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("sources", cfg.Sources)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("batch", cfg.Batch)
	v.SetDefault("matching", cfg.Matching)
	v.SetDefault("graph", cfg.Graph)

	v.SetEnvPrefix("AGENTICKG")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".agentic-kg")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		cfg.LLM.EmbeddingKey = key
	}
	if mailto := os.Getenv("OPENALEX_MAILTO"); mailto != "" {
		cfg.Sources.OpenAlexMailto = mailto
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		cfg.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Graph.Password = pass
	}
	if dir := os.Getenv("CACHE_DIRECTORY"); dir != "" {
		cfg.Cache.Directory = expandPath(dir)
	}
	if size := os.Getenv("CACHE_MAX_PDF_BYTES"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Cache.MaxPDFBytes = n
		}
	}
	if n := os.Getenv("BATCH_MAX_CONCURRENT"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Batch.MaxConcurrent = v
		}
	}
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}
