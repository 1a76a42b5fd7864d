// Package classify decides whether a candidate's text signals buying intent:
// a cheap keyword prefilter first, then a cached call to the AI service.
package classify

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// minTextLen is the floor below which text is rejected outright.
const minTextLen = 5

// Normalize canonicalizes text for prefiltering and cache keys: NFKC,
// lowercase, trimmed.
func Normalize(text string) string {
	return strings.TrimSpace(strings.ToLower(norm.NFKC.String(text)))
}

// PassesPrefilter applies the keyword gate to already-normalized text:
// a length floor, at least one positive keyword, and no negative keyword.
// The floor counts runes, not bytes, so multibyte scripts are not waved
// through by their encoding width.
func PassesPrefilter(normalized string, positive, negative []string) bool {
	if utf8.RuneCountInString(normalized) < minTextLen {
		return false
	}
	hasPositive := false
	for _, k := range positive {
		if strings.Contains(normalized, strings.ToLower(k)) {
			hasPositive = true
			break
		}
	}
	if !hasPositive {
		return false
	}
	for _, k := range negative {
		if strings.Contains(normalized, strings.ToLower(k)) {
			return false
		}
	}
	return true
}
