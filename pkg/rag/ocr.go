package rag

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OCREngine extracts text from a PDF. A nil pages slice means the
// whole document; otherwise only the given 0-based pages are read.
type OCREngine interface {
	Name() string
	ProcessDocument(ctx context.Context, data []byte, pages []int) (string, error)
}

// OCRConfig holds configuration for the OCR fallback chain.
type OCRConfig struct {
	PagesPerChunk  int           `json:"pages_per_chunk"` // fallback engine page-range size
	SubmitInterval time.Duration `json:"submit_interval"` // delay between chunk submissions
	RequestTimeout time.Duration `json:"request_timeout"`
}

func getDefaultOCRConfig() *OCRConfig {
	return &OCRConfig{
		PagesPerChunk:  15,
		SubmitInterval: 500 * time.Millisecond,
		RequestTimeout: 2 * time.Minute,
	}
}

// OCRChain runs a primary engine against the whole document and, if
// that fails, a fallback engine over parallel page-range chunks. Chunk
// submissions are staggered by a rate limiter to respect upstream
// rate limits; completions are not throttled.
type OCRChain struct {
	primary  OCREngine
	fallback OCREngine
	config   *OCRConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewOCRChain creates an OCR chain. Either engine may be nil; Run
// fails only when every configured engine has been exhausted.
func NewOCRChain(primary, fallback OCREngine, config *OCRConfig) *OCRChain {
	if config == nil {
		config = getDefaultOCRConfig()
	}
	if config.PagesPerChunk <= 0 {
		config.PagesPerChunk = 15
	}
	if config.SubmitInterval <= 0 {
		config.SubmitInterval = 500 * time.Millisecond
	}
	return &OCRChain{
		primary:  primary,
		fallback: fallback,
		config:   config,
		limiter:  rate.NewLimiter(rate.Every(config.SubmitInterval), 1),
		logger:   slog.Default().With("component", "ocr-chain"),
	}
}

// Run extracts text from a scanned PDF, returning the text and the
// name of the engine that produced it.
func (c *OCRChain) Run(ctx context.Context, data []byte, pageCount int) (string, string, error) {
	if c.primary != nil {
		text, err := c.primary.ProcessDocument(ctx, data, nil)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, c.primary.Name(), nil
		}
		if err != nil {
			c.logger.Warn("primary OCR engine failed, falling back",
				"engine", c.primary.Name(), "error", err)
		}
		ocrFallbacks.Inc()
	}

	if c.fallback == nil {
		return "", "", fmt.Errorf("no OCR engine produced text")
	}

	if pageCount <= c.config.PagesPerChunk {
		text, err := c.fallback.ProcessDocument(ctx, data, nil)
		if err != nil {
			return "", "", fmt.Errorf("fallback OCR failed: %w", err)
		}
		return text, c.fallback.Name(), nil
	}

	ranges := pageRanges(pageCount, c.config.PagesPerChunk)
	texts := make([]string, len(ranges))
	errs := make([]error, len(ranges))

	var wg sync.WaitGroup
	for i, pages := range ranges {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", "", fmt.Errorf("OCR submission interrupted: %w", err)
		}
		wg.Add(1)
		go func(i int, pages []int) {
			defer wg.Done()
			texts[i], errs[i] = c.fallback.ProcessDocument(ctx, data, pages)
		}(i, pages)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return "", "", fmt.Errorf("fallback OCR failed on pages %d-%d: %w",
				ranges[i][0], ranges[i][len(ranges[i])-1], err)
		}
	}
	return strings.Join(texts, "\n\n"), c.fallback.Name(), nil
}

// pageRanges splits 0-based page numbers [0, total) into consecutive
// ranges of at most per pages, in page order.
func pageRanges(total, per int) [][]int {
	var ranges [][]int
	for start := 0; start < total; start += per {
		end := start + per
		if end > total {
			end = total
		}
		pages := make([]int, 0, end-start)
		for p := start; p < end; p++ {
			pages = append(pages, p)
		}
		ranges = append(ranges, pages)
	}
	return ranges
}

// mistralOCREngine calls the Mistral document OCR endpoint with the
// PDF inlined as a base64 data URL.
type mistralOCREngine struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewMistralOCREngine creates the primary OCR engine.
func NewMistralOCREngine(apiKey, model string, timeout time.Duration) OCREngine {
	if model == "" {
		model = "mistral-ocr-latest"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &mistralOCREngine{
		endpoint:   "https://api.mistral.ai/v1/ocr",
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (m *mistralOCREngine) Name() string { return "mistral-ocr" }

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
	Pages    []int              `json:"pages,omitempty"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (m *mistralOCREngine) ProcessDocument(ctx context.Context, data []byte, pages []int) (string, error) {
	if m.apiKey == "" {
		return "", fmt.Errorf("mistral API key not configured")
	}

	payload := mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
		},
		Pages: pages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("OCR provider returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed mistralOCRResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}

	sort.Slice(parsed.Pages, func(i, j int) bool {
		return parsed.Pages[i].Index < parsed.Pages[j].Index
	})
	parts := make([]string, 0, len(parsed.Pages))
	for _, p := range parsed.Pages {
		parts = append(parts, p.Markdown)
	}
	return strings.Join(parts, "\n\n"), nil
}

// restOCREngine posts the document to a provider-agnostic OCR endpoint
// and is used as the page-chunked fallback. The exact provider behind
// the endpoint is a deployment concern.
type restOCREngine struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRESTOCREngine creates the fallback OCR engine for the given
// endpoint. Returns nil when no endpoint is configured.
func NewRESTOCREngine(endpoint, apiKey string, timeout time.Duration) OCREngine {
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &restOCREngine{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *restOCREngine) Name() string { return "rest-ocr" }

func (r *restOCREngine) ProcessDocument(ctx context.Context, data []byte, pages []int) (string, error) {
	payload := map[string]interface{}{
		"document": base64.StdEncoding.EncodeToString(data),
	}
	if len(pages) > 0 {
		payload["pages"] = pages
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("OCR provider returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}
	return parsed.Text, nil
}
