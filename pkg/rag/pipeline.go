package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DocumentStatusStore persists ingestion status records. The
// implementation backing the chat application owns durability; the
// in-memory store below is for single-instance deployments and tests.
type DocumentStatusStore interface {
	Get(fileID string) (*DocumentRecord, bool)
	Put(record *DocumentRecord)
	Delete(fileID string)
}

type memoryStatusStore struct {
	mu      sync.RWMutex
	records map[string]*DocumentRecord
}

// NewMemoryStatusStore creates an in-memory document status store.
func NewMemoryStatusStore() DocumentStatusStore {
	return &memoryStatusStore{records: make(map[string]*DocumentRecord)}
}

func (s *memoryStatusStore) Get(fileID string) (*DocumentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fileID]
	if !ok {
		return nil, false
	}
	copied := *record
	return &copied, true
}

func (s *memoryStatusStore) Put(record *DocumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	copied.UpdatedAt = time.Now()
	s.records[record.FileID] = &copied
}

func (s *memoryStatusStore) Delete(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fileID)
}

// IngestRequest describes one file to ingest. Data takes precedence;
// when it is nil the bytes are fetched from SourceURL.
type IngestRequest struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SourceURL string `json:"source_url,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	FetchTimeout  time.Duration `json:"fetch_timeout"`  // remote source download timeout
	IngestTimeout time.Duration `json:"ingest_timeout"` // budget for one background ingestion
	MaxSourceSize int64         `json:"max_source_size"`
}

func getDefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		FetchTimeout:  2 * time.Minute,
		IngestTimeout: 10 * time.Minute,
		MaxSourceSize: 100 << 20, // 100 MiB
	}
}

// IngestionPipeline runs extract -> chunk -> embed -> index for one
// file and owns the document status lifecycle
// (pending -> processing -> completed|failed). Failures are terminal
// per file and recorded in the status store; recovery is re-upload,
// not internal retry.
type IngestionPipeline struct {
	config    *PipelineConfig
	extractor *TextExtractor
	chunker   *ChunkingService
	embedder  Embedder
	store     VectorStore
	status    DocumentStatusStore
	client    *http.Client
	logger    *slog.Logger
}

// NewIngestionPipeline wires the ingestion pipeline.
func NewIngestionPipeline(config *PipelineConfig, extractor *TextExtractor, chunker *ChunkingService, embedder Embedder, store VectorStore, status DocumentStatusStore) *IngestionPipeline {
	if config == nil {
		config = getDefaultPipelineConfig()
	}
	return &IngestionPipeline{
		config:    config,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		status:    status,
		client:    &http.Client{Timeout: config.FetchTimeout},
		logger:    slog.Default().With("component", "ingestion-pipeline"),
	}
}

// StartIngestion records the document as pending and processes it in
// the background so the upload response does not wait on OCR and
// embedding work. The job stays observable through the status store.
func (p *IngestionPipeline) StartIngestion(req *IngestRequest) {
	p.status.Put(&DocumentRecord{
		FileID:   req.FileID,
		FileName: req.FileName,
		MimeType: req.MimeType,
		Status:   StatusPending,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.IngestTimeout)
		defer cancel()
		if _, err := p.IngestDocument(ctx, req); err != nil {
			p.logger.Error("background ingestion failed",
				"file_id", req.FileID, "file_name", req.FileName, "error", err)
		}
	}()
}

// IngestDocument runs the full ingestion synchronously and returns the
// terminal status record.
func (p *IngestionPipeline) IngestDocument(ctx context.Context, req *IngestRequest) (*DocumentRecord, error) {
	record := &DocumentRecord{
		FileID:   req.FileID,
		FileName: req.FileName,
		MimeType: req.MimeType,
		Status:   StatusProcessing,
	}
	p.status.Put(record)

	data := req.Data
	if len(data) == 0 {
		if req.SourceURL == "" {
			return p.fail(record, fmt.Errorf("ingest request carries neither data nor source URL"))
		}
		fetched, err := p.fetchSource(ctx, req.SourceURL)
		if err != nil {
			return p.fail(record, fmt.Errorf("fetching source: %w", err))
		}
		data = fetched
	}

	extraction, err := p.extractor.Extract(ctx, data, req.MimeType)
	if err != nil {
		return p.fail(record, err)
	}

	chunks, err := p.chunker.BuildChunks(req.FileID, req.FileName, extraction)
	if err != nil {
		// Empty extraction output is terminal, same as an extraction
		// failure.
		if errors.Is(err, ErrEmptyInput) {
			err = &ExtractionError{Stage: "chunking", Err: err}
		}
		return p.fail(record, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return p.fail(record, err)
	}

	if err := p.store.EnsureCollection(ctx, req.FileID); err != nil {
		return p.fail(record, err)
	}
	if err := p.store.AddChunks(ctx, req.FileID, chunks, vectors); err != nil {
		return p.fail(record, err)
	}

	record.Status = StatusCompleted
	record.ChunkCount = len(chunks)
	record.PageCount = extraction.PageCount
	record.IsScanned = extraction.IsScanned
	record.OCREngine = extraction.OCREngine
	p.status.Put(record)

	documentsIngested.WithLabelValues(string(StatusCompleted)).Inc()
	chunksIndexed.Add(float64(len(chunks)))
	p.logger.Info("document ingested",
		"file_id", req.FileID, "chunks", len(chunks),
		"pages", extraction.PageCount, "scanned", extraction.IsScanned)
	return record, nil
}

func (p *IngestionPipeline) fail(record *DocumentRecord, err error) (*DocumentRecord, error) {
	record.Status = StatusFailed
	record.Error = err.Error()
	p.status.Put(record)
	documentsIngested.WithLabelValues(string(StatusFailed)).Inc()
	return record, err
}

// DeleteDocument removes the file's collection (cascading all chunks)
// and its status record.
func (p *IngestionPipeline) DeleteDocument(ctx context.Context, fileID string) error {
	if err := p.store.DeleteCollection(ctx, fileID); err != nil {
		return err
	}
	p.status.Delete(fileID)
	p.logger.Info("document deleted", "file_id", fileID)
	return nil
}

func (p *IngestionPipeline) fetchSource(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxSourceSize))
	if err != nil {
		return nil, err
	}
	return data, nil
}
