package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetrieverConfig holds the tunable constants of the multi-strategy
// retriever. The defaults are the values the system was tuned with,
// kept as configuration rather than load-bearing literals.
type RetrieverConfig struct {
	// Overview strategy
	SemanticBudgetRatio float64  `json:"semantic_budget_ratio"` // share of the per-file budget spent on the user query
	ProbeDistanceOffset float64  `json:"probe_distance_offset"` // additive penalty on structural-probe hits
	TieTolerance        float64  `json:"tie_tolerance"`         // distance delta under which document order wins
	StructuralProbes    []string `json:"structural_probes"`

	// Fetch shaping
	RerankOverfetch           int     `json:"rerank_overfetch"` // per-file over-fetch factor when reranking
	DefaultDiversityThreshold float64 `json:"default_diversity_threshold"`
	DefaultResults            int     `json:"default_results"`
}

func getDefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		SemanticBudgetRatio: 0.6,
		ProbeDistanceOffset: 0.1,
		TieTolerance:        0.2,
		StructuralProbes: []string{
			"introduction objectives learning outcomes",
			"key concepts main topics definitions",
			"summary conclusion takeaways",
		},
		RerankOverfetch:           3,
		DefaultDiversityThreshold: 0.85,
		DefaultResults:            5,
	}
}

// Retriever orchestrates query-time retrieval: it embeds the query,
// fans out per-file searches (standard or budgeted multi-strategy for
// overview questions), fuses the per-file results by distance, applies
// greedy diversity filtering and optionally reranks.
type Retriever struct {
	config     *RetrieverConfig
	store      VectorStore
	embedder   Embedder
	classifier *QueryClassifier
	reranker   *Reranker
	logger     *slog.Logger
}

// NewRetriever creates a retriever over the given store and embedder.
func NewRetriever(config *RetrieverConfig, store VectorStore, embedder Embedder, classifier *QueryClassifier, reranker *Reranker) *Retriever {
	if config == nil {
		config = getDefaultRetrieverConfig()
	}
	if config.SemanticBudgetRatio <= 0 || config.SemanticBudgetRatio > 1 {
		config.SemanticBudgetRatio = 0.6
	}
	if config.RerankOverfetch <= 0 {
		config.RerankOverfetch = 3
	}
	if config.DefaultResults <= 0 {
		config.DefaultResults = 5
	}
	if classifier == nil {
		classifier = NewQueryClassifier()
	}
	if reranker == nil {
		reranker = NewReranker(nil)
	}
	return &Retriever{
		config:     config,
		store:      store,
		embedder:   embedder,
		classifier: classifier,
		reranker:   reranker,
		logger:     slog.Default().With("component", "retriever"),
	}
}

// Retrieve returns the top nResults chunks for query across fileIDs.
// An empty fileIDs set short-circuits to an empty result with no
// network calls. Per-file failures are isolated: a failing collection
// contributes zero chunks and the retrieval degrades to whatever the
// remaining files produced.
func (r *Retriever) Retrieve(ctx context.Context, query string, fileIDs []string, nResults int, opts *RetrievalOptions) (*RetrievalResult, error) {
	start := time.Now()
	defer func() {
		retrievalDuration.Observe(time.Since(start).Seconds())
	}()

	if opts == nil {
		opts = &RetrievalOptions{EnableSmartRetrieval: true}
	}
	if nResults <= 0 {
		nResults = r.config.DefaultResults
	}
	if len(fileIDs) == 0 {
		return emptyRetrievalResult(), nil
	}

	intent := r.classifier.Classify(query)

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryVector := vectors[0]

	resultsPerFile := (nResults + len(fileIDs) - 1) / len(fileIDs)
	fetchPerFile := resultsPerFile
	if opts.RerankResults {
		fetchPerFile *= r.config.RerankOverfetch
	}

	type fileResult struct {
		chunks []*ScoredChunk
		err    error
	}
	results := make([]fileResult, len(fileIDs))

	var wg sync.WaitGroup
	for i, fileID := range fileIDs {
		wg.Add(1)
		go func(i int, fileID string) {
			defer wg.Done()
			var chunks []*ScoredChunk
			var err error
			if intent == IntentOverview && opts.EnableSmartRetrieval {
				chunks, err = r.overviewQuery(ctx, fileID, queryVector, fetchPerFile)
			} else {
				chunks, err = r.store.Query(ctx, fileID, queryVector, fetchPerFile)
			}
			results[i] = fileResult{chunks: chunks, err: err}
		}(i, fileID)
	}
	wg.Wait()

	var fused []*ScoredChunk
	filesQueried := make([]string, 0, len(fileIDs))
	failed := 0
	for i, fileID := range fileIDs {
		if results[i].err != nil {
			failed++
			retrievalFileFailures.Inc()
			r.logger.Warn("per-file query failed, continuing without it",
				"file_id", fileID, "error", results[i].err)
			continue
		}
		if len(results[i].chunks) > 0 {
			filesQueried = append(filesQueried, fileID)
			fused = append(fused, results[i].chunks...)
		}
	}
	if failed > 0 && failed < len(fileIDs) {
		r.logger.Warn("partial retrieval degradation",
			"requested_files", len(fileIDs), "failed_files", failed)
	}
	if len(fused) == 0 {
		if failed == len(fileIDs) {
			r.logger.Error("all per-file queries failed, returning empty context",
				"query", query, "files", len(fileIDs))
		}
		return emptyRetrievalResult(), nil
	}

	totalChunks := len(fused)

	// Global fusion: interleave across files by relevance rather than
	// grouping by file.
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Distance < fused[j].Distance
	})

	if len(fused) > nResults {
		fused = r.diversityFilter(fused, nResults, opts.DiversityThreshold)
	}
	if opts.RerankResults {
		fused = r.reranker.Rerank(query, fused, nResults)
	} else if len(fused) > nResults {
		fused = fused[:nResults]
	}

	out := &RetrievalResult{
		Documents:    make([]string, 0, len(fused)),
		Metadatas:    make([]ChunkMetadata, 0, len(fused)),
		Distances:    make([]float64, 0, len(fused)),
		TotalChunks:  totalChunks,
		FilesQueried: filesQueried,
	}
	for _, c := range fused {
		out.Documents = append(out.Documents, c.Chunk.Text)
		out.Metadatas = append(out.Metadatas, c.Chunk.Metadata)
		out.Distances = append(out.Distances, c.Distance)
	}
	return out, nil
}

func emptyRetrievalResult() *RetrievalResult {
	return &RetrievalResult{
		Documents:    []string{},
		Metadatas:    []ChunkMetadata{},
		Distances:    []float64{},
		TotalChunks:  0,
		FilesQueried: []string{},
	}
}

// overviewQuery implements the budgeted multi-strategy search for one
// file: most of the budget goes to direct semantic similarity, the
// rest to fixed structural probes that surface introduction/summary
// chunks. Probe hits carry a small distance penalty so semantic
// matches win ties, and near-equal distances fall back to document
// order.
func (r *Retriever) overviewQuery(ctx context.Context, fileID string, queryVector []float32, budget int) ([]*ScoredChunk, error) {
	if budget < 1 {
		budget = 1
	}
	semanticBudget := int(math.Ceil(float64(budget) * r.config.SemanticBudgetRatio))
	if semanticBudget < 1 {
		semanticBudget = 1
	}

	semantic, err := r.store.Query(ctx, fileID, queryVector, semanticBudget)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, budget)
	candidates := make([]*ScoredChunk, 0, budget)
	for _, c := range semantic {
		if _, dup := seen[c.Chunk.ID]; dup {
			continue
		}
		seen[c.Chunk.ID] = struct{}{}
		candidates = append(candidates, c)
	}

	probeBudget := budget - semanticBudget
	if probeBudget > 0 && len(r.config.StructuralProbes) > 0 {
		perProbe := probeBudget / len(r.config.StructuralProbes)
		if perProbe < 1 {
			perProbe = 1
		}

		// Probe embeddings are fixed strings, so after the first
		// overview query they come straight from the cache.
		probeVectors, err := r.embedder.Embed(ctx, r.config.StructuralProbes)
		if err != nil {
			r.logger.Warn("probe embedding failed, using semantic results only",
				"file_id", fileID, "error", err)
			probeVectors = nil
		}

		for p, vector := range probeVectors {
			hits, err := r.store.Query(ctx, fileID, vector, perProbe)
			if err != nil {
				r.logger.Warn("structural probe query failed",
					"file_id", fileID, "probe", r.config.StructuralProbes[p], "error", err)
				continue
			}
			for _, c := range hits {
				if _, dup := seen[c.Chunk.ID]; dup {
					continue
				}
				seen[c.Chunk.ID] = struct{}{}
				candidates = append(candidates, &ScoredChunk{
					Chunk:    c.Chunk,
					Distance: c.Distance + r.config.ProbeDistanceOffset,
				})
			}
		}
	}

	// Near-equally-relevant chunks stay in original document order.
	tolerance := r.config.TieTolerance
	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := candidates[i].Distance, candidates[j].Distance
		if math.Abs(di-dj) < tolerance {
			return candidates[i].Chunk.Metadata.ChunkIndex < candidates[j].Chunk.Metadata.ChunkIndex
		}
		return di < dj
	})

	if len(candidates) > budget {
		candidates = candidates[:budget]
	}
	return candidates, nil
}

// diversityFilter greedily selects up to n chunks in relevance order,
// skipping any candidate whose token-set Jaccard similarity to an
// already-accepted chunk reaches threshold. The returned set therefore
// contains no pair more similar than the threshold.
func (r *Retriever) diversityFilter(candidates []*ScoredChunk, n int, threshold float64) []*ScoredChunk {
	if threshold <= 0 || threshold > 1 {
		threshold = r.config.DefaultDiversityThreshold
	}

	selected := make([]*ScoredChunk, 0, n)
	selectedTokens := make([]map[string]struct{}, 0, n)
	for _, c := range candidates {
		tokens := tokenSet(c.Chunk.Text)
		diverse := true
		for _, accepted := range selectedTokens {
			if jaccardSimilarity(tokens, accepted) >= threshold {
				diverse = false
				break
			}
		}
		if !diverse {
			continue
		}
		selected = append(selected, c)
		selectedTokens = append(selectedTokens, tokens)
		if len(selected) == n {
			break
		}
	}
	return selected
}

func tokenSet(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(text)) {
		tokens[t] = struct{}{}
	}
	return tokens
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
