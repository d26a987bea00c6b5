package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeVectorStore serves canned per-file result sequences: the first
// Query against a file consumes the first slice, the next the second,
// and the last slice repeats. Files in failFiles always error.
type fakeVectorStore struct {
	mu        sync.Mutex
	callCount map[string]int
	topKSeen  []int
	results   map[string][][]*ScoredChunk
	failFiles map[string]bool
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		callCount: make(map[string]int),
		results:   make(map[string][][]*ScoredChunk),
		failFiles: make(map[string]bool),
	}
}

func (f *fakeVectorStore) EnsureCollection(context.Context, string) error { return nil }

func (f *fakeVectorStore) AddChunks(context.Context, string, []*Chunk, [][]float32) error {
	return nil
}

func (f *fakeVectorStore) DeleteCollection(context.Context, string) error { return nil }

func (f *fakeVectorStore) Query(_ context.Context, fileID string, _ []float32, topK int) ([]*ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.topKSeen = append(f.topKSeen, topK)
	if f.failFiles[fileID] {
		return nil, fmt.Errorf("collection unavailable for %s", fileID)
	}
	seq := f.results[fileID]
	if len(seq) == 0 {
		return nil, nil
	}
	i := f.callCount[fileID]
	f.callCount[fileID]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

func (f *fakeVectorStore) totalQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topKSeen)
}

// stubEmbedder returns a fixed unit vector per text and counts calls.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return nil, &EncodingError{Err: fmt.Errorf("provider down")}
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func fileChunk(fileID string, index, total int, text string, distance float64) *ScoredChunk {
	return &ScoredChunk{
		Chunk: Chunk{
			ID:   fmt.Sprintf("%s_chunk_%d", fileID, index),
			Text: text,
			Metadata: ChunkMetadata{
				FileID:      fileID,
				FileName:    fileID + ".pdf",
				ChunkIndex:  index,
				TotalChunks: total,
			},
		},
		Distance: distance,
	}
}

var _ = Describe("Retriever", func() {
	var (
		store    *fakeVectorStore
		embedder *stubEmbedder
		r        *Retriever
		ctx      context.Context
	)

	BeforeEach(func() {
		store = newFakeVectorStore()
		embedder = &stubEmbedder{}
		r = NewRetriever(nil, store, embedder, NewQueryClassifier(), NewReranker(nil))
		ctx = context.Background()
	})

	Describe("Retrieve", func() {
		Context("with an empty file set", func() {
			It("short-circuits without any network call", func() {
				result, err := r.Retrieve(ctx, "what is entropy", nil, 5, nil)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Documents).To(BeEmpty())
				Expect(result.Metadatas).To(BeEmpty())
				Expect(result.Distances).To(BeEmpty())
				Expect(result.TotalChunks).To(BeZero())
				Expect(result.FilesQueried).To(BeEmpty())
				Expect(embedder.calls).To(BeZero())
				Expect(store.totalQueries()).To(BeZero())
			})
		})

		Context("with a standard query across files", func() {
			BeforeEach(func() {
				store.results["fileA"] = [][]*ScoredChunk{{
					fileChunk("fileA", 0, 4, "alpha text", 0.5),
					fileChunk("fileA", 1, 4, "beta text", 0.1),
				}}
				store.results["fileB"] = [][]*ScoredChunk{{
					fileChunk("fileB", 0, 2, "gamma text", 0.3),
				}}
			})

			It("fuses per-file results by ascending distance", func() {
				result, err := r.Retrieve(ctx, "what page mentions beta", []string{"fileA", "fileB"}, 5, nil)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Documents).To(Equal([]string{"beta text", "gamma text", "alpha text"}))
				Expect(result.Distances).To(Equal([]float64{0.1, 0.3, 0.5}))
				Expect(result.TotalChunks).To(Equal(3))
				Expect(result.FilesQueried).To(ConsistOf("fileA", "fileB"))
			})
		})

		Context("when one file's collection fails", func() {
			BeforeEach(func() {
				store.failFiles["fileA"] = true
				store.results["fileB"] = [][]*ScoredChunk{{
					fileChunk("fileB", 0, 2, "surviving text", 0.2),
				}}
			})

			It("isolates the failure and returns the other file's results", func() {
				result, err := r.Retrieve(ctx, "find the surviving text", []string{"fileA", "fileB"}, 5, nil)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Documents).To(Equal([]string{"surviving text"}))
				Expect(result.FilesQueried).To(Equal([]string{"fileB"}))
			})
		})

		Context("when every file fails", func() {
			BeforeEach(func() {
				store.failFiles["fileA"] = true
				store.failFiles["fileB"] = true
			})

			It("degrades to an empty result instead of an error", func() {
				result, err := r.Retrieve(ctx, "anything", []string{"fileA", "fileB"}, 5, nil)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Documents).To(BeEmpty())
				Expect(result.FilesQueried).To(BeEmpty())
			})
		})

		Context("when query embedding fails", func() {
			BeforeEach(func() {
				embedder.fail = true
			})

			It("fails the whole retrieval with an encoding error", func() {
				_, err := r.Retrieve(ctx, "anything", []string{"fileA"}, 5, nil)

				Expect(err).To(HaveOccurred())
				var encodingErr *EncodingError
				Expect(errors.As(err, &encodingErr)).To(BeTrue())
				Expect(store.totalQueries()).To(BeZero())
			})
		})

		Context("when reranking is requested", func() {
			BeforeEach(func() {
				store.results["fileA"] = [][]*ScoredChunk{{
					fileChunk("fileA", 0, 2, "text", 0.2),
				}}
			})

			It("over-fetches per file before narrowing down", func() {
				_, err := r.Retrieve(ctx, "find text", []string{"fileA"}, 4,
					&RetrievalOptions{RerankResults: true})

				Expect(err).ToNot(HaveOccurred())
				Expect(store.topKSeen).To(ContainElement(12)) // 4 results x3 over-fetch
			})
		})

		Context("with near-duplicate candidates", func() {
			BeforeEach(func() {
				store.results["fileA"] = [][]*ScoredChunk{{
					fileChunk("fileA", 0, 6, "the quick brown fox jumps over the lazy dog", 0.10),
					fileChunk("fileA", 1, 6, "the quick brown fox jumps over the lazy dog today", 0.15),
					fileChunk("fileA", 2, 6, "photosynthesis converts light into chemical energy", 0.20),
					fileChunk("fileA", 3, 6, "the quick brown fox jumps over a lazy dog", 0.25),
					fileChunk("fileA", 4, 6, "gross domestic product measures economic output", 0.30),
					fileChunk("fileA", 5, 6, "tectonic plates drift a few centimeters per year", 0.35),
				}}
			})

			It("returns no pair above the diversity threshold", func() {
				threshold := 0.5
				result, err := r.Retrieve(ctx, "fox facts", []string{"fileA"}, 3,
					&RetrievalOptions{DiversityThreshold: threshold})

				Expect(err).ToNot(HaveOccurred())
				Expect(len(result.Documents)).To(BeNumerically("<=", 3))
				for i := 0; i < len(result.Documents); i++ {
					for j := i + 1; j < len(result.Documents); j++ {
						sim := jaccardSimilarity(tokenSet(result.Documents[i]), tokenSet(result.Documents[j]))
						Expect(sim).To(BeNumerically("<", threshold),
							"documents %d and %d are too similar", i, j)
					}
				}
				Expect(result.TotalChunks).To(Equal(6))
			})
		})
	})

	Describe("overview strategy", func() {
		Context("when probes re-surface semantic hits", func() {
			BeforeEach(func() {
				semantic := []*ScoredChunk{
					fileChunk("fileA", 2, 8, "core discussion of the topic", 0.20),
					fileChunk("fileA", 5, 8, "further detail on the topic", 0.30),
					fileChunk("fileA", 6, 8, "more material", 0.35),
				}
				probeHits := []*ScoredChunk{
					fileChunk("fileA", 2, 8, "core discussion of the topic", 0.22), // duplicate of semantic hit
					fileChunk("fileA", 0, 8, "introduction and objectives", 0.40),
				}
				store.results["fileA"] = [][]*ScoredChunk{semantic, probeHits}
			})

			It("deduplicates chunk ids across signal sources", func() {
				result, err := r.Retrieve(ctx, "give me an overview", []string{"fileA"}, 5,
					&RetrievalOptions{EnableSmartRetrieval: true})

				Expect(err).ToNot(HaveOccurred())
				seen := map[string]int{}
				for _, meta := range result.Metadatas {
					seen[fmt.Sprintf("%s_chunk_%d", meta.FileID, meta.ChunkIndex)]++
				}
				for id, count := range seen {
					Expect(count).To(Equal(1), "chunk %s appears %d times", id, count)
				}
			})

			It("penalizes probe-sourced distances", func() {
				chunks, err := r.overviewQuery(ctx, "fileA", []float32{1, 0, 0}, 5)

				Expect(err).ToNot(HaveOccurred())
				for _, c := range chunks {
					if c.Chunk.Metadata.ChunkIndex == 0 {
						// Probe hit 0.40 plus the 0.1 offset.
						Expect(c.Distance).To(BeNumerically("~", 0.50, 1e-9))
					}
				}
			})
		})

		Context("when distances are nearly equal", func() {
			BeforeEach(func() {
				store.results["fileA"] = [][]*ScoredChunk{{
					fileChunk("fileA", 5, 10, "later chunk", 0.41),
					fileChunk("fileA", 2, 10, "earlier chunk", 0.50),
				}}
			})

			It("falls back to document order", func() {
				chunks, err := r.overviewQuery(ctx, "fileA", []float32{1, 0, 0}, 2)

				Expect(err).ToNot(HaveOccurred())
				Expect(chunks).To(HaveLen(2))
				// 0.41 vs 0.50 differ by less than the 0.2 tolerance,
				// so chunk index 2 must come before index 5.
				Expect(chunks[0].Chunk.Metadata.ChunkIndex).To(Equal(2))
				Expect(chunks[1].Chunk.Metadata.ChunkIndex).To(Equal(5))
			})
		})

		Context("when smart retrieval is disabled", func() {
			BeforeEach(func() {
				store.results["fileA"] = [][]*ScoredChunk{{
					fileChunk("fileA", 0, 2, "text", 0.2),
				}}
			})

			It("runs a single standard query per file", func() {
				_, err := r.Retrieve(ctx, "summarize the document", []string{"fileA"}, 5,
					&RetrievalOptions{EnableSmartRetrieval: false})

				Expect(err).ToNot(HaveOccurred())
				Expect(store.totalQueries()).To(Equal(1))
			})
		})
	})
})
