// rag-api exposes the retrieval pipeline over HTTP: document
// ingestion, status, deletion and multi-file retrieval with assembled
// LLM context.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyforge/rag-engine/pkg/rag"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config := rag.LoadConfigFromEnv()

	store, err := rag.NewWeaviateStore(&rag.WeaviateConfig{
		Host:    config.WeaviateHost,
		Scheme:  config.WeaviateScheme,
		APIKey:  config.WeaviateAPIKey,
		Timeout: config.StoreTimeout,
	})
	if err != nil {
		logger.Error("failed to create vector store", "error", err)
		os.Exit(1)
	}

	var l2 *rag.RedisCache
	if config.RedisEnabled {
		l2, err = rag.NewRedisCache(&rag.RedisCacheConfig{
			Address: config.RedisAddress,
			TTL:     config.RedisTTL,
		})
		if err != nil {
			logger.Error("failed to connect L2 embedding cache", "error", err)
			os.Exit(1)
		}
		defer l2.Close()
	}

	embedder := rag.NewEmbeddingService(
		&rag.EmbeddingConfig{CacheCapacity: config.CacheCapacity},
		rag.NewOpenAIEmbeddingProvider(config.OpenAIAPIKey, config.EmbeddingModel),
		l2,
	)

	ocrChain := rag.NewOCRChain(
		rag.NewMistralOCREngine(config.MistralAPIKey, config.MistralOCRModel, config.OCRTimeout),
		rag.NewRESTOCREngine(config.OCRFallbackURL, "", config.OCRTimeout),
		nil,
	)

	statusStore := rag.NewMemoryStatusStore()
	pipeline := rag.NewIngestionPipeline(
		nil,
		rag.NewTextExtractor(nil, ocrChain),
		rag.NewChunkingService(nil),
		embedder,
		store,
		statusStore,
	)

	classifier := rag.NewQueryClassifier()
	retriever := rag.NewRetriever(nil, store, embedder, classifier, rag.NewReranker(nil))
	assembler := rag.NewContextAssembler()

	s := &server{
		pipeline:   pipeline,
		retriever:  retriever,
		classifier: classifier,
		assembler:  assembler,
		status:     statusStore,
		logger:     logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/documents", s.handleIngest).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/documents/{id}", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/documents/{id}", s.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/query", s.handleQuery).Methods(http.MethodPost)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         config.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("rag-api listening", "addr", config.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

type server struct {
	pipeline   *rag.IngestionPipeline
	retriever  *rag.Retriever
	classifier *rag.QueryClassifier
	assembler  *rag.ContextAssembler
	status     rag.DocumentStatusStore
	logger     *slog.Logger
}

type ingestPayload struct {
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Data      string `json:"data,omitempty"` // base64
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload ingestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.FileID == "" || payload.MimeType == "" {
		writeError(w, http.StatusBadRequest, "fileId and mimeType are required")
		return
	}
	if payload.SourceURL == "" && payload.Data == "" {
		writeError(w, http.StatusBadRequest, "either sourceUrl or data is required")
		return
	}

	var data []byte
	if payload.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "data is not valid base64")
			return
		}
		data = decoded
	}

	s.pipeline.StartIngestion(&rag.IngestRequest{
		FileID:    payload.FileID,
		FileName:  payload.FileName,
		MimeType:  payload.MimeType,
		SourceURL: payload.SourceURL,
		Data:      data,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"fileId": payload.FileID,
		"status": string(rag.StatusPending),
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	record, ok := s.status.Get(fileID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown document")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	if err := s.pipeline.DeleteDocument(r.Context(), fileID); err != nil {
		s.logger.Error("document deletion failed", "file_id", fileID, "error", err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryPayload struct {
	Query              string   `json:"query"`
	FileIDs            []string `json:"fileIds"`
	NResults           int      `json:"nResults,omitempty"`
	RerankResults      bool     `json:"rerankResults,omitempty"`
	DiversityThreshold float64  `json:"diversityThreshold,omitempty"`
	SmartRetrieval     *bool    `json:"smartRetrieval,omitempty"`
}

type queryResponse struct {
	Intent  string               `json:"intent"`
	Context string               `json:"context"`
	Result  *rag.RetrievalResult `json:"result"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := &rag.RetrievalOptions{
		RerankResults:        payload.RerankResults,
		DiversityThreshold:   payload.DiversityThreshold,
		EnableSmartRetrieval: true,
	}
	if payload.SmartRetrieval != nil {
		opts.EnableSmartRetrieval = *payload.SmartRetrieval
	}

	intent := s.classifier.Classify(payload.Query)
	result, err := s.retriever.Retrieve(r.Context(), payload.Query, payload.FileIDs, payload.NResults, opts)
	if err != nil {
		// Retrieval failures degrade to "no context": the chat turn
		// must still get a response path.
		s.logger.Error("retrieval failed, returning empty context",
			"query", payload.Query, "error", err)
		writeJSON(w, http.StatusOK, queryResponse{
			Intent:  string(intent),
			Context: "",
			Result:  &rag.RetrievalResult{Documents: []string{}, Metadatas: []rag.ChunkMetadata{}, Distances: []float64{}, FilesQueried: []string{}},
		})
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Intent:  string(intent),
		Context: s.assembler.Assemble(result, intent),
		Result:  result,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
