package extract

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/sentences"
	"github.com/clipperhouse/uax29/v2/words"
)

// MainIdeaLength bounds the derived main-idea sentence.
const MainIdeaLength = 120

// MainIdea derives a representative sentence from body text for sites with
// no configured title rule. Callers consult it only after the heading ladder
// comes up empty; a detected title always wins over a derived one. Sentences
// are segmented per UAX#29, scored by average token frequency plus a length
// bonus, and the best one is returned truncated to MainIdeaLength runes.
// Returns fallbackTitle when no sentence scores.
func MainIdea(body, fallbackTitle string) string {
	body = normalizeSpace(body)
	if body == "" {
		return fallbackTitle
	}

	freq := make(map[string]int)
	total := 0
	for _, tok := range Tokens(body) {
		freq[tok]++
		total++
	}
	if total == 0 {
		return fallbackTitle
	}

	best := ""
	bestScore := 0.0
	seg := sentences.FromString(body)
	for seg.Next() {
		sentence := normalizeSpace(seg.Value())
		toks := Tokens(sentence)
		if len(toks) == 0 {
			continue
		}
		sum := 0
		for _, tok := range toks {
			sum += freq[tok]
		}
		score := float64(sum) / float64(len(toks))
		// Longer sentences carry more of the page's idea, capped so a
		// run-on paragraph cannot dominate.
		bonus := float64(len(toks))
		if bonus > 20 {
			bonus = 20
		}
		score += bonus / 40
		if score > bestScore {
			bestScore = score
			best = sentence
		}
	}
	if best == "" {
		return fallbackTitle
	}
	runes := []rune(best)
	if len(runes) > MainIdeaLength {
		best = string(runes[:MainIdeaLength])
	}
	return best
}

// Tokens splits text into match/scoring tokens: CJK ideographs count one
// token each, everything else segments per UAX#29 word boundaries with
// non-alphanumeric tokens dropped. All tokens are lowercased.
func Tokens(text string) []string {
	var out []string
	seg := words.FromString(text)
	for seg.Next() {
		tok := strings.ToLower(strings.TrimSpace(seg.Value()))
		if tok == "" {
			continue
		}
		if !hasAlnum(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
