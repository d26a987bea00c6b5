package rag

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateConfig holds configuration for the Weaviate vector store.
type WeaviateConfig struct {
	Host    string        `json:"host"`
	Scheme  string        `json:"scheme"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// WeaviateStore implements VectorStore on Weaviate with one class per
// file. Vectors are supplied by the embedding service (vectorizer
// "none") and object IDs are deterministic UUIDs derived from chunk
// IDs, so re-ingestion upserts instead of duplicating.
type WeaviateStore struct {
	client *weaviate.Client
	config *WeaviateConfig
	logger *slog.Logger
}

// NewWeaviateStore creates a Weaviate-backed vector store.
func NewWeaviateStore(config *WeaviateConfig) (*WeaviateStore, error) {
	if config == nil {
		return nil, fmt.Errorf("weaviate config cannot be nil")
	}
	if config.Scheme == "" {
		config.Scheme = "http"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var authConfig auth.Config
	if config.APIKey != "" {
		authConfig = auth.ApiKey{Value: config.APIKey}
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:             config.Host,
		Scheme:           config.Scheme,
		AuthConfig:       authConfig,
		ConnectionClient: &http.Client{Timeout: config.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	return &WeaviateStore{
		client: client,
		config: config,
		logger: slog.Default().With("component", "weaviate-store"),
	}, nil
}

var classNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// collectionClass maps a file ID to its Weaviate class name. Class
// names must start with an uppercase letter and stay within
// [A-Za-z0-9_].
func collectionClass(fileID string) string {
	return "Chunks_" + classNamePattern.ReplaceAllString(fileID, "_")
}

// chunkObjectID derives the deterministic Weaviate object UUID for a
// chunk ID.
func chunkObjectID(chunkID string) strfmt.UUID {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("weaviate://chunks/"+chunkID))
	return strfmt.UUID(id.String())
}

// EnsureCollection creates the per-file class if it does not exist.
// Idempotent.
func (ws *WeaviateStore) EnsureCollection(ctx context.Context, fileID string) error {
	class := &models.Class{
		Class:       collectionClass(fileID),
		Description: "Document chunks for file " + fileID,
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "chunkId", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "totalChunks", DataType: []string{"int"}},
			{Name: "fileId", DataType: []string{"text"}},
			{Name: "fileName", DataType: []string{"text"}},
			{Name: "pageCount", DataType: []string{"int"}},
			{Name: "isScanned", DataType: []string{"boolean"}},
			{Name: "ocrEngine", DataType: []string{"text"}},
		},
	}

	err := ws.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection for file %s: %w", fileID, err)
	}
	return nil
}

// AddChunks upserts chunk records with their vectors into the file's
// collection.
func (ws *WeaviateStore) AddChunks(ctx context.Context, fileID string, chunks []*Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	class := collectionClass(fileID)
	objects := make([]*models.Object, 0, len(chunks))
	for i, chunk := range chunks {
		objects = append(objects, &models.Object{
			Class: class,
			ID:    chunkObjectID(chunk.ID),
			Properties: map[string]interface{}{
				"content":     chunk.Text,
				"chunkId":     chunk.ID,
				"chunkIndex":  chunk.Metadata.ChunkIndex,
				"totalChunks": chunk.Metadata.TotalChunks,
				"fileId":      chunk.Metadata.FileID,
				"fileName":    chunk.Metadata.FileName,
				"pageCount":   chunk.Metadata.PageCount,
				"isScanned":   chunk.Metadata.IsScanned,
				"ocrEngine":   chunk.Metadata.OCREngine,
			},
			Vector: vectors[i],
		})
	}

	resp, err := ws.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to index chunks for file %s: %w", fileID, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("failed to index chunk %s: %s", item.ID, item.Result.Errors.Error[0].Message)
		}
	}

	ws.logger.Info("chunks indexed", "file_id", fileID, "count", len(chunks))
	return nil
}

// Query runs a nearVector search against the file's collection. A
// collection that does not exist yet yields an empty result: the file
// is still processing or has no matches, not an error condition.
func (ws *WeaviateStore) Query(ctx context.Context, fileID string, vector []float32, topK int) ([]*ScoredChunk, error) {
	if topK <= 0 {
		topK = 5
	}
	class := collectionClass(fileID)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "chunkId"},
		{Name: "chunkIndex"},
		{Name: "totalChunks"},
		{Name: "fileId"},
		{Name: "fileName"},
		{Name: "pageCount"},
		{Name: "isScanned"},
		{Name: "ocrEngine"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "distance"},
		}},
	}

	nearVector := ws.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := ws.client.GraphQL().Get().
		WithClassName(class).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		if isMissingClassError(err.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("weaviate query failed for file %s: %w", fileID, err)
	}
	for _, gqlErr := range result.Errors {
		if gqlErr != nil && isMissingClassError(gqlErr.Message) {
			return nil, nil
		}
		if gqlErr != nil {
			return nil, fmt.Errorf("weaviate query failed for file %s: %s", fileID, gqlErr.Message)
		}
	}

	return ws.parseQueryResult(result.Data, class), nil
}

// isMissingClassError reports whether a Weaviate error denotes a class
// that has not been created yet.
func isMissingClassError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "cannot query field") ||
		strings.Contains(lower, "could not find class") ||
		strings.Contains(lower, "not found in schema")
}

func (ws *WeaviateStore) parseQueryResult(data map[string]models.JSONObject, class string) []*ScoredChunk {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return nil
	}

	chunks := make([]*ScoredChunk, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		chunk := Chunk{}
		if v, ok := item["chunkId"].(string); ok {
			chunk.ID = v
		}
		if v, ok := item["content"].(string); ok {
			chunk.Text = v
		}
		if v, ok := item["fileId"].(string); ok {
			chunk.Metadata.FileID = v
		}
		if v, ok := item["fileName"].(string); ok {
			chunk.Metadata.FileName = v
		}
		if v, ok := item["chunkIndex"].(float64); ok {
			chunk.Metadata.ChunkIndex = int(v)
		}
		if v, ok := item["totalChunks"].(float64); ok {
			chunk.Metadata.TotalChunks = int(v)
		}
		if v, ok := item["pageCount"].(float64); ok {
			chunk.Metadata.PageCount = int(v)
		}
		if v, ok := item["isScanned"].(bool); ok {
			chunk.Metadata.IsScanned = v
		}
		if v, ok := item["ocrEngine"].(string); ok {
			chunk.Metadata.OCREngine = v
		}

		scored := &ScoredChunk{Chunk: chunk}
		if additional, ok := item["_additional"].(map[string]interface{}); ok {
			if v, ok := additional["distance"].(float64); ok {
				scored.Distance = v
			}
		}
		chunks = append(chunks, scored)
	}
	return chunks
}

// DeleteCollection removes the file's class and with it every chunk
// belonging to the file.
func (ws *WeaviateStore) DeleteCollection(ctx context.Context, fileID string) error {
	err := ws.client.Schema().ClassDeleter().WithClassName(collectionClass(fileID)).Do(ctx)
	if err != nil && !isMissingClassError(err.Error()) {
		return fmt.Errorf("failed to delete collection for file %s: %w", fileID, err)
	}
	return nil
}
