// Package rag implements the retrieval pipeline behind document chat:
// text extraction (with OCR fallback for scanned PDFs), overlapping
// chunking, cached embedding, per-file vector collections in Weaviate,
// and a multi-strategy retriever that fuses, diversifies and reranks
// results before they are assembled into LLM context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QueryIntent classifies what shape of answer a query is asking for.
type QueryIntent string

const (
	IntentOverview    QueryIntent = "overview"
	IntentExplanation QueryIntent = "explanation"
	IntentSpecific    QueryIntent = "specific"
)

// DocumentStatus tracks the ingestion lifecycle of an uploaded file.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// ChunkMetadata carries the denormalized per-chunk metadata stored
// alongside each vector and returned with every retrieval hit.
type ChunkMetadata struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	PageCount   int    `json:"page_count,omitempty"`
	IsScanned   bool   `json:"is_scanned,omitempty"`
	OCREngine   string `json:"ocr_engine,omitempty"`
}

// Chunk is a contiguous slice of a document's extracted text, the unit
// of embedding and retrieval. IDs are deterministic:
// {fileID}_chunk_{index}.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ExtractionResult is the normalized text of a document plus
// extraction metadata. It is never persisted; only chunks survive.
type ExtractionResult struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count,omitempty"`
	IsScanned bool   `json:"is_scanned,omitempty"`
	OCREngine string `json:"ocr_engine,omitempty"`
}

// ScoredChunk is a retrieval candidate with its vector-store distance
// (lower = more relevant).
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// RetrievalResult is the fully materialized, ranked output of a
// retrieval pass. Documents, Metadatas and Distances are parallel
// slices. TotalChunks counts candidates before diversity/rerank
// trimming; FilesQueried lists the files that contributed at least one
// chunk.
type RetrievalResult struct {
	Documents    []string        `json:"documents"`
	Metadatas    []ChunkMetadata `json:"metadatas"`
	Distances    []float64       `json:"distances"`
	TotalChunks  int             `json:"total_chunks"`
	FilesQueried []string        `json:"files_queried"`
}

// RetrievalOptions tunes a single retrieval pass.
type RetrievalOptions struct {
	RerankResults        bool    `json:"rerank_results"`
	DiversityThreshold   float64 `json:"diversity_threshold"`
	EnableSmartRetrieval bool    `json:"enable_smart_retrieval"`
}

// DocumentRecord is the persisted ingestion status of one file. It is
// written only by the ingestion pipeline; the retrieval path never
// mutates it.
type DocumentRecord struct {
	FileID     string         `json:"file_id"`
	FileName   string         `json:"file_name"`
	MimeType   string         `json:"mime_type"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"chunk_count,omitempty"`
	PageCount  int            `json:"page_count,omitempty"`
	IsScanned  bool           `json:"is_scanned,omitempty"`
	OCREngine  string         `json:"ocr_engine,omitempty"`
	Error      string         `json:"error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Embedder converts texts into fixed-length vectors, one per input,
// order-preserving.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists and queries chunks in per-file collections.
// Query against a collection that does not exist yet returns an empty
// result, not an error; callers must tolerate files still processing.
type VectorStore interface {
	EnsureCollection(ctx context.Context, fileID string) error
	AddChunks(ctx context.Context, fileID string, chunks []*Chunk, vectors [][]float32) error
	Query(ctx context.Context, fileID string, vector []float32, topK int) ([]*ScoredChunk, error)
	DeleteCollection(ctx context.Context, fileID string) error
}

var (
	// ErrUnsupportedType is returned for MIME types outside the
	// supported set; ingestion never starts.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrEmptyInput is returned when extraction succeeded but yielded
	// no usable text.
	ErrEmptyInput = errors.New("document contains no extractable text")

	// ErrCollectionNotFound marks a query against a collection that
	// has not been created yet. It is internal: the store translates
	// it to an empty result before callers see it.
	ErrCollectionNotFound = errors.New("collection not found")
)

// ExtractionError wraps a failure in the extraction path, including an
// exhausted OCR fallback chain.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EncodingError wraps an embedding-provider failure. Ingestion treats
// it as terminal for the file; retrieval treats it as "no context
// available" for that query.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("embedding provider call failed: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
