package match

import (
	"math"
	"sync"

	"sitewatch/internal/extract"
)

// LexicalSimilarity is the default similarity backend: cosine similarity
// over token frequency vectors, sharing the extractor's tokenization so CJK
// text segments the same way everywhere. It carries an explicit lifecycle so
// a heavier backend (an embedding service, say) can swap in behind the same
// interface without touching call sites.
type LexicalSimilarity struct {
	mu     sync.RWMutex
	loaded bool
}

// NewLexicalSimilarity returns an initialized backend.
func NewLexicalSimilarity() *LexicalSimilarity {
	s := &LexicalSimilarity{}
	s.Reload()
	return s
}

// Reload re-initializes the backend. The lexical scorer has no external
// state to load but keeps the hook so callers treat every backend alike.
func (s *LexicalSimilarity) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
}

// Score computes cosine similarity between the text and each candidate.
// Empty candidate lists return an empty slice; empty inputs score 0.
func (s *LexicalSimilarity) Score(text string, candidates []string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scores := make([]float64, len(candidates))
	if !s.loaded || len(candidates) == 0 {
		return scores
	}
	base := termVector(text)
	for i, candidate := range candidates {
		scores[i] = cosine(base, termVector(candidate))
	}
	return scores
}

func termVector(text string) map[string]float64 {
	vec := make(map[string]float64)
	for _, tok := range extract.Tokens(text) {
		vec[tok]++
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for tok, av := range a {
		normA += av * av
		if bv, ok := b[tok]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		normB += bv * bv
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
