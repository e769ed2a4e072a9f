package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sitewatch/internal/monitor"
)

func TestKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		phrase string
		want   []string
	}{
		{name: "comma", phrase: "solar,wind", want: []string{"solar", "wind"}},
		{name: "cjk comma", phrase: "财政，补贴", want: []string{"财政", "补贴"}},
		{name: "slash and semicolon", phrase: "rebate/credit;grant", want: []string{"rebate", "credit", "grant"}},
		{name: "whitespace and case", phrase: "  Solar  Panel ", want: []string{"solar", "panel"}},
		{name: "empty", phrase: " ,;/ ", want: []string{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Keywords(tt.phrase))
		})
	}
}

func TestScoreKeywordShortCircuit(t *testing.T) {
	t.Parallel()

	// The similarity backend must not influence exact keyword hits.
	m := New(fixedSimilarity{value: 0.1})
	phrases := []monitor.WatchPhrase{{ID: 1, Text: "财政,补贴"}}

	scores := m.Score("财政部发布新政策", "", phrases)
	require.Len(t, scores, 1)
	require.Equal(t, 1.0, scores[0].Score)
}

func TestScoreKeywordHitInSummary(t *testing.T) {
	t.Parallel()

	m := New(fixedSimilarity{value: 0})
	phrases := []monitor.WatchPhrase{{ID: 1, Text: "Subsidy"}}

	scores := m.Score("unrelated title", "a new subsidy program was announced", phrases)
	require.Equal(t, 1.0, scores[0].Score)
}

func TestScoreFallbackBounded(t *testing.T) {
	t.Parallel()

	m := New(fixedSimilarity{value: 3.5})
	phrases := []monitor.WatchPhrase{{ID: 1, Text: "nothing in common"}}

	scores := m.Score("title", "completely different words", phrases)
	require.Len(t, scores, 1)
	// Out-of-range backend scores are clamped.
	require.Equal(t, 1.0, scores[0].Score)

	m = New(fixedSimilarity{value: -2})
	scores = m.Score("title", "completely different words", phrases)
	require.Equal(t, 0.0, scores[0].Score)
}

func TestScoreMixedBatch(t *testing.T) {
	t.Parallel()

	sim := &recordingSimilarity{value: 0.7}
	m := New(sim)
	phrases := []monitor.WatchPhrase{
		{ID: 1, Text: "solar"},
		{ID: 2, Text: "offshore wind auction"},
		{ID: 3, Text: "hydrogen pipeline"},
	}

	scores := m.Score("Solar subsidy news", "details about solar funding", phrases)
	require.Equal(t, 1.0, scores[0].Score)
	require.Equal(t, 0.7, scores[1].Score)
	require.Equal(t, 0.7, scores[2].Score)
	// Only the unmatched phrases reach the backend, in order.
	require.Equal(t, []string{"offshore wind auction", "hydrogen pipeline"}, sim.candidates)
}

func TestScoreEmptyPhrases(t *testing.T) {
	t.Parallel()

	m := New(NewLexicalSimilarity())
	require.Nil(t, m.Score("title", "summary", nil))
}

func TestConfirmedThreshold(t *testing.T) {
	t.Parallel()

	m := New(nil)
	scores := []PhraseScore{
		{Phrase: monitor.WatchPhrase{ID: 1}, Score: 0.59},
		{Phrase: monitor.WatchPhrase{ID: 2}, Score: 0.6},
		{Phrase: monitor.WatchPhrase{ID: 3}, Score: 1.0},
	}

	confirmed := m.Confirmed(scores)
	require.Len(t, confirmed, 2)
	require.Equal(t, int64(2), confirmed[0].Phrase.ID)
	require.Equal(t, int64(3), confirmed[1].Phrase.ID)
}

func TestLexicalSimilarity(t *testing.T) {
	t.Parallel()

	s := NewLexicalSimilarity()

	// Identical text scores 1.
	scores := s.Score("solar subsidy program", []string{"solar subsidy program"})
	require.Len(t, scores, 1)
	require.InDelta(t, 1.0, scores[0], 1e-9)

	// Disjoint vocabulary scores 0.
	scores = s.Score("solar subsidy program", []string{"quarterly earnings report"})
	require.Equal(t, 0.0, scores[0])

	// Partial overlap lands strictly between.
	scores = s.Score("solar subsidy program announced", []string{"solar subsidy ends"})
	require.Greater(t, scores[0], 0.0)
	require.Less(t, scores[0], 1.0)

	// Empty candidate list is not an error.
	require.Empty(t, s.Score("anything", nil))

	// Empty text scores 0 for every candidate.
	scores = s.Score("", []string{"solar"})
	require.Equal(t, 0.0, scores[0])
}

type fixedSimilarity struct {
	value float64
}

func (f fixedSimilarity) Score(_ string, candidates []string) []float64 {
	out := make([]float64, len(candidates))
	for i := range out {
		out[i] = f.value
	}
	return out
}

type recordingSimilarity struct {
	value      float64
	candidates []string
}

func (r *recordingSimilarity) Score(_ string, candidates []string) []float64 {
	r.candidates = candidates
	out := make([]float64, len(candidates))
	for i := range out {
		out[i] = r.value
	}
	return out
}
