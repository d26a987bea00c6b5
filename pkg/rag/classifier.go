package rag

import "strings"

// QueryClassifier labels a question as overview, explanation or
// specific to steer the retrieval budget and the shape of the prompt.
// It is a pure, deterministic keyword-membership test; it never fails.
type QueryClassifier struct {
	overviewCues    []string
	explanationCues []string
}

// NewQueryClassifier creates a classifier with the fixed cue lists.
func NewQueryClassifier() *QueryClassifier {
	return &QueryClassifier{
		overviewCues: []string{
			"summarize", "summary", "overview", "main points", "key points",
			"main topics", "about this document", "what is this document",
			"tl;dr", "tldr", "outline", "gist", "recap",
		},
		explanationCues: []string{
			"explain", "how does", "how do", "how is", "why", "what is",
			"what are", "what does", "describe", "elaborate",
			"difference between", "meaning of", "define",
		},
	}
}

// Classify returns the intent of query. Overview cues win over
// explanation cues; the default is specific.
func (qc *QueryClassifier) Classify(query string) QueryIntent {
	lower := strings.ToLower(query)
	for _, cue := range qc.overviewCues {
		if strings.Contains(lower, cue) {
			return IntentOverview
		}
	}
	for _, cue := range qc.explanationCues {
		if strings.Contains(lower, cue) {
			return IntentExplanation
		}
	}
	return IntentSpecific
}
