package rag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingProvider is the upstream encoder: one vector per input
// text, order-preserving.
type EmbeddingProvider interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// openAIEmbeddingProvider encodes text batches through the OpenAI
// embeddings API.
type openAIEmbeddingProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbeddingProvider creates an OpenAI-backed embedding
// provider.
func NewOpenAIEmbeddingProvider(apiKey, model string) EmbeddingProvider {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &openAIEmbeddingProvider{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
	}
}

func (p *openAIEmbeddingProvider) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vector := make([]float32, len(item.Embedding))
		copy(vector, item.Embedding)
		vectors[item.Index] = vector
	}
	return vectors, nil
}

// EmbeddingConfig holds configuration for the embedding service.
type EmbeddingConfig struct {
	CacheCapacity int `json:"cache_capacity"` // L1 LRU entry capacity
}

// EmbeddingService converts texts into vectors with content-addressed
// caching: an in-memory L1 LRU and an optional shared L2 in Redis.
// Cache keys are the MD5 hash of the exact text, so identical text is
// never encoded twice.
type EmbeddingService struct {
	provider EmbeddingProvider
	l1       *MemoryCache
	l2       *RedisCache
	logger   *slog.Logger
}

// NewEmbeddingService creates an embedding service. l2 may be nil to
// run without the Redis tier.
func NewEmbeddingService(config *EmbeddingConfig, provider EmbeddingProvider, l2 *RedisCache) *EmbeddingService {
	capacity := 4096
	if config != nil && config.CacheCapacity > 0 {
		capacity = config.CacheCapacity
	}
	return &EmbeddingService{
		provider: provider,
		l1:       NewMemoryCache(capacity),
		l2:       l2,
		logger:   slog.Default().With("component", "embedding-service"),
	}
}

// Embed returns one vector per input text, in input order. Cache hits
// bypass the provider entirely; all misses in a batch are encoded in a
// single upstream call and cached before the merge-back. A provider
// failure surfaces as an EncodingError with no partial success.
func (es *EmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))
	var missIndices []int
	var missTexts []string

	for i, text := range texts {
		key := contentHash(text)
		if vector, ok := es.l1.Get(key); ok {
			vectors[i] = vector
			embeddingCacheHits.Inc()
			continue
		}
		if es.l2 != nil {
			vector, ok, err := es.l2.Get(ctx, key)
			if err != nil {
				es.logger.Warn("L2 cache read failed", "error", err)
			} else if ok {
				es.l1.Set(key, vector)
				vectors[i] = vector
				embeddingCacheHits.Inc()
				continue
			}
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
		embeddingCacheMisses.Inc()
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	encoded, err := es.provider.CreateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	if len(encoded) != len(missTexts) {
		return nil, &EncodingError{
			Err: fmt.Errorf("provider returned %d vectors for %d texts", len(encoded), len(missTexts)),
		}
	}

	for j, vector := range encoded {
		key := contentHash(missTexts[j])
		es.l1.Set(key, vector)
		if es.l2 != nil {
			if err := es.l2.Set(ctx, key, vector); err != nil {
				es.logger.Warn("L2 cache write failed", "error", err)
			}
		}
		vectors[missIndices[j]] = vector
	}
	return vectors, nil
}

func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
