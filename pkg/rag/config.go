package rag

import (
	"os"
	"strconv"
	"time"
)

// ServiceConfig aggregates the environment-driven configuration for
// the rag-api service. Component-level configs (chunking, retrieval,
// OCR) keep their own defaults; only deployment-level knobs live here.
type ServiceConfig struct {
	ListenAddr string `json:"listen_addr"`

	// Embedding provider
	OpenAIAPIKey   string `json:"-"`
	EmbeddingModel string `json:"embedding_model"`
	CacheCapacity  int    `json:"cache_capacity"`

	// Vector store
	WeaviateHost   string        `json:"weaviate_host"`
	WeaviateScheme string        `json:"weaviate_scheme"`
	WeaviateAPIKey string        `json:"-"`
	StoreTimeout   time.Duration `json:"store_timeout"`

	// Optional L2 embedding cache
	RedisEnabled bool          `json:"redis_enabled"`
	RedisAddress string        `json:"redis_address"`
	RedisTTL     time.Duration `json:"redis_ttl"`

	// OCR providers
	MistralAPIKey   string        `json:"-"`
	MistralOCRModel string        `json:"mistral_ocr_model"`
	OCRFallbackURL  string        `json:"ocr_fallback_url"`
	OCRTimeout      time.Duration `json:"ocr_timeout"`
}

// LoadConfigFromEnv reads service configuration from the environment,
// falling back to defaults suitable for local development.
func LoadConfigFromEnv() *ServiceConfig {
	return &ServiceConfig{
		ListenAddr:      getEnvOrDefault("RAG_LISTEN_ADDR", ":8080"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel:  getEnvOrDefault("RAG_EMBEDDING_MODEL", "text-embedding-3-small"),
		CacheCapacity:   getEnvIntOrDefault("RAG_EMBEDDING_CACHE_CAPACITY", 4096),
		WeaviateHost:    getEnvOrDefault("WEAVIATE_HOST", "localhost:8081"),
		WeaviateScheme:  getEnvOrDefault("WEAVIATE_SCHEME", "http"),
		WeaviateAPIKey:  os.Getenv("WEAVIATE_API_KEY"),
		StoreTimeout:    getEnvDurationOrDefault("RAG_STORE_TIMEOUT", 30*time.Second),
		RedisEnabled:    getEnvBoolOrDefault("RAG_REDIS_ENABLED", false),
		RedisAddress:    getEnvOrDefault("RAG_REDIS_ADDRESS", "localhost:6379"),
		RedisTTL:        getEnvDurationOrDefault("RAG_REDIS_TTL", 24*time.Hour),
		MistralAPIKey:   os.Getenv("MISTRAL_API_KEY"),
		MistralOCRModel: getEnvOrDefault("RAG_MISTRAL_OCR_MODEL", "mistral-ocr-latest"),
		OCRFallbackURL:  os.Getenv("RAG_OCR_FALLBACK_URL"),
		OCRTimeout:      getEnvDurationOrDefault("RAG_OCR_TIMEOUT", 2*time.Minute),
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
