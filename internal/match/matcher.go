// Package match scores extracted text against watch phrases. Exact keyword
// hits short-circuit to 1.0; everything else falls through to a pluggable
// similarity backend.
package match

import (
	"strings"

	"sitewatch/internal/monitor"
)

// Threshold is the confirmation cutoff for a match.
const Threshold = 0.6

// keywordDelimiters split a watch phrase into candidate keywords.
var keywordDelimiters = func(r rune) bool {
	switch r {
	case ',', '，', ';', '；', '/':
		return true
	}
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '　'
}

// Similarity scores text against each candidate, returning one score in
// [0,1] per candidate. Implementations must handle empty candidate lists.
type Similarity interface {
	Score(text string, candidates []string) []float64
}

// PhraseScore pairs a watch phrase with its score for one page.
type PhraseScore struct {
	Phrase monitor.WatchPhrase
	Score  float64
}

// Matcher applies keyword short-circuiting with similarity fallback.
type Matcher struct {
	sim       Similarity
	threshold float64
}

// New constructs a Matcher around the given similarity backend.
func New(sim Similarity) *Matcher {
	return &Matcher{sim: sim, threshold: Threshold}
}

// Keywords splits a phrase into lowercased candidate keywords.
func Keywords(phrase string) []string {
	fields := strings.FieldsFunc(phrase, keywordDelimiters)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Score rates every phrase against the page title and summary. Any keyword
// appearing case-insensitively in either yields exactly 1.0; remaining
// phrases are batched through the similarity backend.
func (m *Matcher) Score(title, summary string, phrases []monitor.WatchPhrase) []PhraseScore {
	if len(phrases) == 0 {
		return nil
	}
	normTitle := strings.ToLower(title)
	normSummary := strings.ToLower(summary)

	scores := make([]PhraseScore, len(phrases))
	var fallbackIdx []int
	var fallbackTexts []string
	for i, phrase := range phrases {
		scores[i] = PhraseScore{Phrase: phrase}
		if keywordHit(normTitle, normSummary, phrase.Text) {
			scores[i].Score = 1.0
			continue
		}
		fallbackIdx = append(fallbackIdx, i)
		fallbackTexts = append(fallbackTexts, phrase.Text)
	}

	if len(fallbackTexts) > 0 && m.sim != nil {
		simScores := m.sim.Score(summary, fallbackTexts)
		for j, idx := range fallbackIdx {
			if j < len(simScores) {
				scores[idx].Score = clamp01(simScores[j])
			}
		}
	}
	return scores
}

// Confirmed filters scores at the confirmation threshold.
func (m *Matcher) Confirmed(scores []PhraseScore) []PhraseScore {
	var out []PhraseScore
	for _, ps := range scores {
		if ps.Score >= m.threshold {
			out = append(out, ps)
		}
	}
	return out
}

func keywordHit(normTitle, normSummary, phrase string) bool {
	for _, kw := range Keywords(phrase) {
		if strings.Contains(normTitle, kw) || strings.Contains(normSummary, kw) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
