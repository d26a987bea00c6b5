package rag

import (
	"log/slog"
	"sort"
	"strings"
)

// RerankerConfig holds the weights of the composite relevance score.
// The defaults mirror the retrieval constants the system was tuned
// with; they are configuration, not derived values.
type RerankerConfig struct {
	SemanticWeight float64 `json:"semantic_weight"`
	KeywordWeight  float64 `json:"keyword_weight"`
	PositionWeight float64 `json:"position_weight"`
}

func getDefaultRerankerConfig() *RerankerConfig {
	return &RerankerConfig{
		SemanticWeight: 0.6,
		KeywordWeight:  0.3,
		PositionWeight: 0.1,
	}
}

// Reranker reorders vector-search candidates by a composite of
// semantic similarity, literal keyword coverage and document
// position.
type Reranker struct {
	config *RerankerConfig
	logger *slog.Logger
}

// NewReranker creates a reranker, falling back to default weights
// when config is nil.
func NewReranker(config *RerankerConfig) *Reranker {
	if config == nil {
		config = getDefaultRerankerConfig()
	}
	return &Reranker{
		config: config,
		logger: slog.Default().With("component", "reranker"),
	}
}

// Rerank returns the top n candidates by composite score, descending.
// The input order is not assumed to carry information beyond the
// stored distances.
func (r *Reranker) Rerank(query string, candidates []*ScoredChunk, n int) []*ScoredChunk {
	if len(candidates) == 0 {
		return candidates
	}

	terms := strings.Fields(strings.ToLower(query))
	scored := make([]struct {
		chunk *ScoredChunk
		score float64
	}, len(candidates))
	for i, c := range candidates {
		scored[i].chunk = c
		scored[i].score = r.compositeScore(terms, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if n > 0 && n < len(scored) {
		scored = scored[:n]
	}
	out := make([]*ScoredChunk, len(scored))
	for i := range scored {
		out[i] = scored[i].chunk
	}
	return out
}

// compositeScore combines the three relevance signals. With inputs in
// range (distance and keyword fraction in [0,1]) the result lies in
// [0,1].
func (r *Reranker) compositeScore(queryTerms []string, c *ScoredChunk) float64 {
	semantic := 1.0 - c.Distance
	if semantic < 0 {
		semantic = 0
	}
	if semantic > 1 {
		semantic = 1
	}

	keyword := keywordFraction(queryTerms, c.Chunk.Text)

	position := 1.0
	if c.Chunk.Metadata.TotalChunks > 0 {
		position = 1.0 - float64(c.Chunk.Metadata.ChunkIndex)/float64(c.Chunk.Metadata.TotalChunks)*0.1
	}

	return r.config.SemanticWeight*semantic +
		r.config.KeywordWeight*keyword +
		r.config.PositionWeight*position
}

// keywordFraction is the fraction of query terms literally present in
// text, case-insensitive.
func keywordFraction(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range queryTerms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}
