package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries every tunable of the service, grouped by the component that
// consumes it. All values come from the environment with working defaults for
// the compose setup.
type Config struct {
	Env            string
	Server         ServerConfig
	DB             DBConfig
	Embedder       EmbedderConfig
	Augur          AugurConfig
	Search         SearchConfig
	QueryExpansion QueryExpansionConfig
	Rerank         RerankConfig
	RAG            RAGConfig
	Hybrid         HybridConfig
	Cache          CacheConfig
	Backend        BackendConfig
	Temporal       TemporalConfig
}

type ServerConfig struct {
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int32
	MinConns int32
}

// DSN renders the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// EmbedderConfig points at the Ollama instance serving the embedding model.
type EmbedderConfig struct {
	URL     string
	Model   string
	Timeout int // seconds
}

// AugurConfig points at the Ollama instance serving the generation model.
type AugurConfig struct {
	URL     string
	Model   string
	Timeout int // seconds
}

// SearchConfig points at the Meilisearch instance holding the articles index.
type SearchConfig struct {
	Host    string
	APIKey  string
	Index   string
	Timeout int // seconds
}

type QueryExpansionConfig struct {
	URL     string
	Timeout int // seconds
}

type RerankConfig struct {
	Enabled bool
	URL     string
	Model   string
	Timeout int // seconds
	TopK    int
}

// RAGConfig holds the retrieval and answer-generation parameters.
type RAGConfig struct {
	SearchLimit                      int
	QuotaOriginal                    int
	QuotaExpanded                    int
	RRFK                             float64
	MaxChunks                        int
	MaxTokens                        int
	MaxPromptTokens                  int
	PromptVersion                    string
	Locale                           string
	MorningLetterMaxTokens           int
	DynamicLanguageAllocationEnabled bool
}

type HybridConfig struct {
	Enabled   bool
	Alpha     float64
	BM25Limit int
}

// CacheConfig sizes the answer LRU. TTL is in minutes.
type CacheConfig struct {
	Size int
	TTL  int
}

// BackendConfig points at the article backend used by the morning letter.
type BackendConfig struct {
	URL     string
	Timeout int // seconds
}

// TemporalConfig holds the recency boost multipliers applied to morning
// letter contexts.
type TemporalConfig struct {
	Boost6h  float32
	Boost12h float32
	Boost18h float32
}

func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("PORT", "9010"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "rag-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "rag_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "rag_password"),
			Name:     getEnv("DB_NAME", "rag_db"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		Embedder: EmbedderConfig{
			URL:     getEnvWithAlt("AUGUR_EXTERNAL", "AUGUR_EXTERNAL_URL", "http://augur-external:11434"),
			Model:   getEnv("EMBEDDING_MODEL", "embeddinggemma"),
			Timeout: getEnvInt("EMBEDDER_TIMEOUT_SECONDS", 60),
		},
		Augur: AugurConfig{
			URL:     getEnvWithAlt("AUGUR_KNOWLEDGE_URL", "AUGUR_EXTERNAL_URL", "http://augur-external:11435"),
			Model:   getEnv("AUGUR_KNOWLEDGE_MODEL", "gemma3-12b-rag"),
			Timeout: getEnvInt("AUGUR_TIMEOUT_SECONDS", 300),
		},
		Search: SearchConfig{
			Host:    getEnv("MEILISEARCH_HOST", "http://meilisearch:7700"),
			APIKey:  getSecret("MEILISEARCH_API_KEY", "MEILISEARCH_API_KEY_FILE", ""),
			Index:   getEnv("MEILISEARCH_INDEX", "articles"),
			Timeout: getEnvInt("SEARCH_TIMEOUT_SECONDS", 15),
		},
		QueryExpansion: QueryExpansionConfig{
			URL:     getEnv("QUERY_EXPANSION_URL", "http://news-creator:8888"),
			Timeout: getEnvInt("QUERY_EXPANSION_TIMEOUT_SECONDS", 30),
		},
		Rerank: RerankConfig{
			Enabled: getEnvBool("RERANK_ENABLED", false),
			URL:     getEnv("RERANK_URL", "http://rag-reranker:8000"),
			Model:   getEnv("RERANK_MODEL", "bge-reranker-v2-m3"),
			Timeout: getEnvInt("RERANK_TIMEOUT_SECONDS", 30),
			TopK:    getEnvInt("RERANK_TOP_K", 10),
		},
		RAG: RAGConfig{
			SearchLimit:                      getEnvInt("RAG_SEARCH_LIMIT", 50),
			QuotaOriginal:                    getEnvInt("RAG_QUOTA_ORIGINAL", 5),
			QuotaExpanded:                    getEnvInt("RAG_QUOTA_EXPANDED", 5),
			RRFK:                             getEnvFloat64("RAG_RRF_K", 60.0),
			MaxChunks:                        getEnvInt("RAG_DEFAULT_MAX_CHUNKS", 5),
			MaxTokens:                        getEnvInt("RAG_DEFAULT_MAX_TOKENS", 6144),
			MaxPromptTokens:                  getEnvInt("RAG_MAX_PROMPT_TOKENS", 6000),
			PromptVersion:                    getEnv("RAG_PROMPT_VERSION", "alpha-v1"),
			Locale:                           getEnv("RAG_DEFAULT_LOCALE", "ja"),
			MorningLetterMaxTokens:           getEnvInt("MORNING_LETTER_MAX_TOKENS", 4096),
			DynamicLanguageAllocationEnabled: getEnvBool("RAG_DYNAMIC_LANGUAGE_ALLOCATION", true),
		},
		Hybrid: HybridConfig{
			Enabled:   getEnvBool("HYBRID_SEARCH_ENABLED", true),
			Alpha:     getEnvFloat64("HYBRID_ALPHA", 0.3),
			BM25Limit: getEnvInt("HYBRID_BM25_LIMIT", 50),
		},
		Cache: CacheConfig{
			Size: getEnvInt("RAG_CACHE_SIZE", 256),
			TTL:  getEnvInt("RAG_CACHE_TTL_MINUTES", 10),
		},
		Backend: BackendConfig{
			URL:     getEnv("ALT_BACKEND_URL", "http://alt-backend:9000"),
			Timeout: getEnvInt("BACKEND_TIMEOUT_SECONDS", 30),
		},
		Temporal: TemporalConfig{
			Boost6h:  getEnvFloat32("TEMPORAL_BOOST_6H", 1.3),
			Boost12h: getEnvFloat32("TEMPORAL_BOOST_12H", 1.15),
			Boost18h: getEnvFloat32("TEMPORAL_BOOST_18H", 1.05),
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DB.Host == "" || c.DB.Name == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Embedder.URL == "" {
		return fmt.Errorf("embedder URL is required")
	}
	if c.Augur.URL == "" {
		return fmt.Errorf("augur URL is required")
	}
	if c.RAG.SearchLimit <= 0 {
		return fmt.Errorf("RAG_SEARCH_LIMIT must be positive, got %d", c.RAG.SearchLimit)
	}
	if c.Rerank.Enabled && c.Rerank.URL == "" {
		return fmt.Errorf("RERANK_URL is required when reranking is enabled")
	}
	if c.Temporal.Boost6h < 1.0 || c.Temporal.Boost12h < 1.0 || c.Temporal.Boost18h < 1.0 {
		return fmt.Errorf("temporal boost factors must be >= 1.0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getSecret reads the value from the environment or, failing that, from the
// file named by fileEnvKey (Docker secrets).
func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat32(key string, fallback float32) float32 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
