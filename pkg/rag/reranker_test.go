package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredChunk(id, text string, index, total int, distance float64) *ScoredChunk {
	return &ScoredChunk{
		Chunk: Chunk{
			ID:   id,
			Text: text,
			Metadata: ChunkMetadata{
				FileID:      "f",
				ChunkIndex:  index,
				TotalChunks: total,
			},
		},
		Distance: distance,
	}
}

func TestCompositeScoreBounds(t *testing.T) {
	r := NewReranker(nil)
	terms := strings.Fields("neural network training")

	cases := []*ScoredChunk{
		scoredChunk("c0", "neural network training from scratch", 0, 10, 0.0),
		scoredChunk("c1", "completely unrelated text", 9, 10, 1.0),
		scoredChunk("c2", "neural things", 5, 10, 0.5),
		scoredChunk("c3", "edge case", 0, 0, 0.3),
	}
	for _, c := range cases {
		score := r.compositeScore(terms, c)
		assert.GreaterOrEqual(t, score, 0.0, "chunk %s", c.Chunk.ID)
		assert.LessOrEqual(t, score, 1.0, "chunk %s", c.Chunk.ID)
	}
}

func TestKeywordFraction(t *testing.T) {
	terms := strings.Fields("what is entropy")

	assert.Equal(t, 1.0, keywordFraction(terms, "What is entropy in thermodynamics"))
	assert.InDelta(t, 1.0/3.0, keywordFraction(terms, "entropy only"), 1e-9)
	assert.Equal(t, 0.0, keywordFraction(terms, "unrelated content"))
	assert.Equal(t, 0.0, keywordFraction(nil, "anything"))
}

func TestRerankOrdersByCompositeScore(t *testing.T) {
	r := NewReranker(nil)

	// Same distance, but only one chunk contains the query terms.
	withKeywords := scoredChunk("hit", "entropy measures disorder in a system", 0, 4, 0.4)
	without := scoredChunk("miss", "the weather was pleasant that day", 0, 4, 0.4)

	ranked := r.Rerank("entropy disorder", []*ScoredChunk{without, withKeywords}, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "hit", ranked[0].Chunk.ID)
}

func TestRerankPositionBreaksTies(t *testing.T) {
	r := NewReranker(nil)

	early := scoredChunk("early", "same text here", 0, 10, 0.4)
	late := scoredChunk("late", "same text here", 9, 10, 0.4)

	ranked := r.Rerank("irrelevant query", []*ScoredChunk{late, early}, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "early", ranked[0].Chunk.ID)
}

func TestRerankTruncatesToN(t *testing.T) {
	r := NewReranker(nil)

	candidates := []*ScoredChunk{
		scoredChunk("a", "text a", 0, 3, 0.1),
		scoredChunk("b", "text b", 1, 3, 0.2),
		scoredChunk("c", "text c", 2, 3, 0.3),
	}
	ranked := r.Rerank("text", candidates, 2)
	assert.Len(t, ranked, 2)
}
