package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLongText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about a distinct topic. ", i)
	}
	return b.String()
}

func TestSplitEmptyInput(t *testing.T) {
	cs := NewChunkingService(nil)

	_, err := cs.Split("")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = cs.Split("   \n\t  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	cs := NewChunkingService(nil)

	chunks, err := cs.Split("A short document.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document.", chunks[0])
}

func TestSplitDeterministic(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{ChunkSize: 300, ChunkOverlap: 60, MinChunkSize: 60})
	text := buildLongText(80)

	first, err := cs.Split(text)
	require.NoError(t, err)
	second, err := cs.Split(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplitOverlapPreservesCrossBoundaryContext(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{ChunkSize: 300, ChunkOverlap: 60, MinChunkSize: 60})

	chunks, err := cs.Split(buildLongText(80))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	// Each chunk starts inside the previous chunk's window.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i]
		if len(head) > 40 {
			head = head[:40]
		}
		assert.Contains(t, chunks[i-1], head,
			"chunk %d does not overlap its predecessor", i)
	}
}

func TestSplitAvoidsMidSentenceBreaks(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{ChunkSize: 300, ChunkOverlap: 60, MinChunkSize: 60})

	chunks, err := cs.Split(buildLongText(80))
	require.NoError(t, err)

	for i, chunk := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(chunk, "."),
			"chunk %d ends mid-sentence: %q", i, chunk[len(chunk)-20:])
	}
}

func TestBuildChunksContiguity(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{ChunkSize: 250, ChunkOverlap: 50, MinChunkSize: 50})
	extraction := &ExtractionResult{Text: buildLongText(100), PageCount: 4, IsScanned: true, OCREngine: "mistral-ocr"}

	chunks, err := cs.BuildChunks("file-1", "notes.pdf", extraction)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	total := len(chunks)
	for i, chunk := range chunks {
		assert.Equal(t, fmt.Sprintf("file-1_chunk_%d", i), chunk.ID)
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
		assert.Equal(t, total, chunk.Metadata.TotalChunks)
		assert.Equal(t, "file-1", chunk.Metadata.FileID)
		assert.Equal(t, "notes.pdf", chunk.Metadata.FileName)
		assert.Equal(t, 4, chunk.Metadata.PageCount)
		assert.True(t, chunk.Metadata.IsScanned)
		assert.Equal(t, "mistral-ocr", chunk.Metadata.OCREngine)
	}
}

func TestBuildChunksEmptyExtraction(t *testing.T) {
	cs := NewChunkingService(nil)

	_, err := cs.BuildChunks("file-1", "empty.txt", &ExtractionResult{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyInput)
}
