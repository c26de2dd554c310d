package vocab

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher aligns near-miss recognitions with vocabulary terms. Candidate
// terms are filtered by Double Metaphone code overlap, then ranked by
// Jaro-Winkler similarity on the original strings (case-insensitive). When
// no phonetic candidate exists, a secondary pass accepts a pure similarity
// match above the (stricter) fuzzy threshold.
//
// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match attempts to find the vocabulary term most phonetically similar to
// word. When matched is false, corrected equals word unchanged and
// confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	word = strings.TrimSpace(word)
	if word == "" || len(terms) == 0 {
		return word, 0, false
	}

	wordLower := strings.ToLower(word)
	wp1, wp2 := matchr.DoubleMetaphone(wordLower)

	var bestTerm string
	var bestScore float64
	var bestPhonetic bool

	for _, term := range terms {
		termLower := strings.ToLower(term)
		if termLower == wordLower {
			// Exact (case-insensitive) matches need no correction.
			return word, 0, false
		}

		tp1, tp2 := matchr.DoubleMetaphone(termLower)
		phonetic := codesOverlap(wp1, wp2, tp1, tp2)

		score := matchr.JaroWinkler(wordLower, termLower, true)

		// Phonetic candidates outrank pure fuzzy candidates regardless of
		// raw score.
		if phonetic && (!bestPhonetic || score > bestScore) {
			bestTerm, bestScore, bestPhonetic = term, score, true
		} else if !phonetic && !bestPhonetic && score > bestScore {
			bestTerm, bestScore = term, score
		}
	}

	if bestPhonetic && bestScore >= m.phoneticThreshold {
		return bestTerm, bestScore, true
	}
	if !bestPhonetic && bestScore >= m.fuzzyThreshold {
		return bestTerm, bestScore, true
	}
	return word, 0, false
}

// CorrectTokens runs Match over each whitespace-separated token of text and
// substitutes accepted corrections, preserving the original separators'
// single-space layout. Punctuation attached to a token is held aside so that
// "grafanna," can still match "Grafana".
func (m *Matcher) CorrectTokens(text string, terms []string) string {
	if text == "" || len(terms) == 0 {
		return text
	}

	tokens := strings.Fields(text)
	changed := false
	for i, tok := range tokens {
		core, prefix, suffix := trimPunct(tok)
		if core == "" {
			continue
		}
		corrected, _, ok := m.Match(core, terms)
		if ok {
			tokens[i] = prefix + corrected + suffix
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(tokens, " ")
}

// codesOverlap reports whether any non-empty metaphone code from the first
// pair equals any from the second.
func codesOverlap(a1, a2, b1, b2 string) bool {
	for _, a := range []string{a1, a2} {
		if a == "" {
			continue
		}
		if a == b1 || (b2 != "" && a == b2) {
			return true
		}
	}
	return false
}

// trimPunct splits leading and trailing non-word runes off a token.
func trimPunct(tok string) (core, prefix, suffix string) {
	runes := []rune(tok)
	start, end := 0, len(runes)
	for start < end && !isWordRune(runes[start]) {
		start++
	}
	for end > start && !isWordRune(runes[end-1]) {
		end--
	}
	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}
