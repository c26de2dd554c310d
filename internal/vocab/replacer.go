// Package vocab implements deterministic vocabulary post-processing for
// finalised transcriptions.
//
// Two stages are provided. The [Replacer] performs exact word replacement
// with Unicode-aware boundary detection: a match counts only when it is not
// adjacent to another letter, digit, or combining mark, which works across
// scripts without relying on ASCII word-boundary assumptions. The [Matcher]
// (phonetic.go) optionally aligns near-miss recognitions with vocabulary
// terms using Double Metaphone codes and Jaro-Winkler similarity.
package vocab

import (
	"sort"
	"strings"
	"unicode"
)

// Replacement maps a source term to its replacement text.
type Replacement struct {
	// From is the term to search for. Matching is case-insensitive.
	From string

	// To is the text substituted for every whole-word occurrence of From.
	To string
}

// Replacer applies an ordered list of whole-word replacements. Rules are
// applied longest-term-first so that an overlapping longer term wins over a
// shorter one. Replacer is read-only after construction and safe for
// concurrent use.
type Replacer struct {
	rules []Replacement
}

// NewReplacer builds a Replacer from rules. Rules with an empty From term
// are dropped. The remaining rules are ordered longest-first (by rune
// count), ties broken lexicographically for determinism.
func NewReplacer(rules []Replacement) *Replacer {
	kept := make([]Replacement, 0, len(rules))
	for _, r := range rules {
		if r.From != "" {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		li, lj := len([]rune(kept[i].From)), len([]rune(kept[j].From))
		if li != lj {
			return li > lj
		}
		return kept[i].From < kept[j].From
	})
	return &Replacer{rules: kept}
}

// Empty reports whether the replacer holds no rules.
func (r *Replacer) Empty() bool {
	return len(r.rules) == 0
}

// Apply runs every rule over text in order and returns the result. Each rule
// replaces all of its whole-word occurrences; later rules operate on the
// output of earlier ones.
func (r *Replacer) Apply(text string) string {
	for _, rule := range r.rules {
		text = replaceWholeWords(text, rule.From, rule.To)
	}
	return text
}

// replaceWholeWords substitutes every occurrence of term in text that is
// bounded by non-word runes (or the text edges). Matching is
// case-insensitive; the comparison is rune-wise simple case folding.
func replaceWholeWords(text, term, replacement string) string {
	runes := []rune(text)
	termRunes := []rune(term)
	if len(termRunes) == 0 || len(runes) < len(termRunes) {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))

	i := 0
	for i < len(runes) {
		if matchesFold(runes[i:], termRunes) && isBoundary(runes, i, i+len(termRunes)) {
			sb.WriteString(replacement)
			i += len(termRunes)
			continue
		}
		sb.WriteRune(runes[i])
		i++
	}
	return sb.String()
}

// matchesFold reports whether s starts with term under simple case folding.
func matchesFold(s, term []rune) bool {
	if len(s) < len(term) {
		return false
	}
	for i, tr := range term {
		if unicode.ToLower(s[i]) != unicode.ToLower(tr) {
			return false
		}
	}
	return true
}

// isBoundary reports whether the match spanning runes[start:end] is bounded
// by non-word runes or the text edges.
func isBoundary(runes []rune, start, end int) bool {
	if start > 0 && isWordRune(runes[start-1]) {
		return false
	}
	if end < len(runes) && isWordRune(runes[end]) {
		return false
	}
	return true
}

// isWordRune reports whether r is part of a word in any script: a letter, a
// digit, or a combining mark.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
