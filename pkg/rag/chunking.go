package rag

import (
	"fmt"
	"log/slog"
	"strings"
)

// ChunkingConfig holds configuration for the chunking service.
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size"`     // target chunk size in characters
	ChunkOverlap int `json:"chunk_overlap"`  // overlap carried into the next chunk
	MinChunkSize int `json:"min_chunk_size"` // earliest point a boundary split is allowed
}

func getDefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 200,
	}
}

// ChunkingService splits normalized text into overlapping passages.
// Splitting is deterministic for identical input and configuration,
// and boundary-aware: a chunk ends at the last sentence boundary
// inside its window where one exists past MinChunkSize.
type ChunkingService struct {
	config *ChunkingConfig
	logger *slog.Logger
}

// NewChunkingService creates a chunking service with the provided
// configuration, falling back to defaults when nil.
func NewChunkingService(config *ChunkingConfig) *ChunkingService {
	if config == nil {
		config = getDefaultChunkingConfig()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	if config.MinChunkSize <= 0 || config.MinChunkSize > config.ChunkSize {
		config.MinChunkSize = config.ChunkSize / 5
	}
	return &ChunkingService{
		config: config,
		logger: slog.Default().With("component", "chunking-service"),
	}
}

// Split returns the ordered chunk texts for text. It returns
// ErrEmptyInput when text is empty or whitespace-only.
func (cs *ChunkingService) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := start + cs.config.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Prefer ending at a sentence boundary so chunks do not
			// split mid-sentence where avoidable.
			if boundary := lastSentenceBoundary(runes[start:end]); boundary > cs.config.MinChunkSize {
				end = start + boundary
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end - cs.config.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// lastSentenceBoundary returns the index just past the last sentence
// terminator in window, or -1 when there is none.
func lastSentenceBoundary(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		switch window[i] {
		case '\n':
			return i + 1
		case '.', '!', '?':
			if i+1 < len(window) && (window[i+1] == ' ' || window[i+1] == '\n') {
				return i + 1
			}
		}
	}
	return -1
}

// BuildChunks splits an extraction result and wraps the pieces into
// chunks with deterministic IDs ({fileID}_chunk_{index}) and
// denormalized metadata. Indices are contiguous from 0.
func (cs *ChunkingService) BuildChunks(fileID, fileName string, extraction *ExtractionResult) ([]*Chunk, error) {
	pieces, err := cs.Split(extraction.Text)
	if err != nil {
		return nil, err
	}

	total := len(pieces)
	chunks := make([]*Chunk, 0, total)
	for i, text := range pieces {
		chunks = append(chunks, &Chunk{
			ID:   fmt.Sprintf("%s_chunk_%d", fileID, i),
			Text: text,
			Metadata: ChunkMetadata{
				FileID:      fileID,
				FileName:    fileName,
				ChunkIndex:  i,
				TotalChunks: total,
				PageCount:   extraction.PageCount,
				IsScanned:   extraction.IsScanned,
				OCREngine:   extraction.OCREngine,
			},
		})
	}

	cs.logger.Debug("document chunked", "file_id", fileID, "chunks", total)
	return chunks, nil
}
