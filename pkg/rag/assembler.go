package rag

import (
	"fmt"
	"strings"
)

// ContextAssembler formats retrieved chunks into the attributed
// context block handed to the language model. The block is fully
// materialized: ranking, diversity and reranking all need the complete
// candidate set, so there is nothing to stream.
type ContextAssembler struct{}

// NewContextAssembler creates a context assembler.
func NewContextAssembler() *ContextAssembler {
	return &ContextAssembler{}
}

// Assemble renders the retrieval result with per-chunk source
// attribution and intent-specific guidance. An empty result yields an
// empty string so the chat layer can fall back to answering without
// document context.
func (ca *ContextAssembler) Assemble(result *RetrievalResult, intent QueryIntent) string {
	if result == nil || len(result.Documents) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Use the following document excerpts to answer the question. ")
	switch intent {
	case IntentOverview:
		b.WriteString("Give a structured overview that draws on all excerpts.")
	case IntentExplanation:
		b.WriteString("Explain the concept step by step, defining terms in plain language.")
	default:
		b.WriteString("Answer precisely, using only facts found in the excerpts.")
	}
	b.WriteString("\n\n")

	for i, doc := range result.Documents {
		meta := result.Metadatas[i]
		fmt.Fprintf(&b, "[Source: %s, Part %d/%d]\n%s\n\n",
			meta.FileName, meta.ChunkIndex+1, meta.TotalChunks, doc)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
