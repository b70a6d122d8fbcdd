package legacy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match thresholds. Tuned empirically against real migration traffic; kept
// as-is for compatibility with the historical behavior. This is a UX
// heuristic, not a security boundary: the real gate is box-id possession
// plus the one-time claim.
const (
	minTokenMatches = 2
	minTokenLength  = 2
)

var diacriticsRemover = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, folds diacritics and drops everything except
// letters, digits and whitespace.
func NormalizeName(s string) string {
	lower := strings.ToLower(s)
	if folded, _, err := transform.String(diacriticsRemover, lower); err == nil {
		lower = folded
	}
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// NamesMatch decides whether a self-reported name is an acceptable match for
// the stored one. It accepts on two token matches, or on one match when the
// leading tokens of both names relate (handles abbreviated surnames).
func NamesMatch(candidate, stored string) bool {
	candTokens := nameTokens(candidate)
	storedTokens := nameTokens(stored)
	if len(candTokens) == 0 || len(storedTokens) == 0 {
		return false
	}

	matches := 0
	for _, cand := range candTokens {
		for _, known := range storedTokens {
			if tokensRelate(cand, known) {
				matches++
				break
			}
		}
	}

	if matches >= minTokenMatches {
		return true
	}
	return matches >= 1 && tokensRelate(candTokens[0], storedTokens[0])
}

func nameTokens(s string) []string {
	raw := strings.Fields(NormalizeName(s))
	tokens := raw[:0]
	for _, token := range raw {
		if len([]rune(token)) >= minTokenLength {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// tokensRelate reports equality or containment either way, so partial and
// abbreviated name parts still count.
func tokensRelate(a, b string) bool {
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
