// Package answer implements the retrieval-and-generation core: candidate
// selection, prompt construction, bounded model calls with fallback, and
// fan-out orchestration across the intents detected for one question.
package answer

import (
	"sort"

	"github.com/dataplane-ai/dbrag-go/internal/rag"
)

// DefaultMaxCandidates caps the candidates kept per intent after filtering.
const DefaultMaxCandidates = 10

// Candidate is a retrieved document that cleared its intent's similarity
// threshold.
type Candidate struct {
	// Document is the retrieved platform document.
	Document rag.Document

	// Similarity is the cosine similarity to the rewritten query, in [0, 1]
	// for normalised embeddings.
	Similarity float32
}

// Select filters search results against the intent's similarity threshold,
// orders them best-first, and caps the result. The store reports cosine
// distance; similarity is 1 - distance.
//
// An empty return value is a first-class outcome, not an error: it means
// the knowledge base holds nothing relevant enough for this intent.
func Select(results []rag.SearchResult, threshold float32, maxKeep int) []Candidate {
	if maxKeep <= 0 {
		maxKeep = DefaultMaxCandidates
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		sim := 1 - r.Distance
		if sim < threshold {
			continue
		}
		candidates = append(candidates, Candidate{Document: r.Document, Similarity: sim})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if len(candidates) > maxKeep {
		candidates = candidates[:maxKeep]
	}
	return candidates
}

// MeanSimilarity returns the average similarity of the candidates, clamped
// to [0, 1]. Zero candidates yield zero confidence.
func MeanSimilarity(candidates []Candidate) float32 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float32
	for _, c := range candidates {
		sum += c.Similarity
	}
	mean := sum / float32(len(candidates))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
