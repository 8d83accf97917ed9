// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package matching implements fuzzy title matching for periodical
// deduplication. Scoring is pure and deterministic: the same pair of inputs
// always yields the same score.
package matching

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	// DefaultThreshold is the minimum score at which two titles are
	// considered the same periodical.
	DefaultThreshold = 80
	// DefaultAmbiguousThreshold bounds the band in which a match is
	// surfaced for manual resolution instead of auto-merged.
	DefaultAmbiguousThreshold = 60
	// DedupeThreshold is used for cross-provider result dedup, where only
	// near-identical titles should collapse.
	DedupeThreshold = 95
)

// Verdict classifies a similarity score against the configured thresholds.
type Verdict int

const (
	VerdictNoMatch Verdict = iota
	VerdictAmbiguous
	VerdictMatch
)

// editionTokens are dropped during normalization so issue/edition noise does
// not keep "PC Gamer US No.405" from matching the tracked title "PC Gamer US".
var editionTokens = map[string]struct{}{
	"no": {}, "issue": {}, "vol": {}, "volume": {}, "edition": {}, "number": {},
	"magazine": {}, "mag": {}, "digital": {}, "hybrid": {}, "pdf": {},
	"emag": {}, "epub": {}, "ebook": {}, "true": {}, "hq": {},
	"spring": {}, "summer": {}, "fall": {}, "autumn": {}, "winter": {},
	"english": {}, "german": {}, "french": {}, "spanish": {}, "italian": {},
	"portuguese": {}, "dutch": {}, "russian": {}, "polish": {}, "swedish": {},
	"deutsch": {}, "francais": {},
}

var monthNames = map[string]string{
	"jan": "january", "feb": "february", "mar": "march", "apr": "april",
	"may": "may", "jun": "june", "jul": "july", "aug": "august",
	"sep": "september", "sept": "september", "oct": "october",
	"nov": "november", "dec": "december",
}

// Matcher scores title pairs. Zero state beyond thresholds; safe for
// concurrent use.
type Matcher struct {
	threshold          int
	ambiguousThreshold int
}

func New(threshold, ambiguousThreshold int) *Matcher {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	if ambiguousThreshold <= 0 || ambiguousThreshold >= threshold {
		ambiguousThreshold = DefaultAmbiguousThreshold
		if ambiguousThreshold >= threshold {
			ambiguousThreshold = threshold - 1
		}
	}
	return &Matcher{threshold: threshold, ambiguousThreshold: ambiguousThreshold}
}

func (m *Matcher) Threshold() int { return m.threshold }

// Normalize lowercases, strips punctuation and edition noise, expands month
// abbreviations, and collapses whitespace.
func (m *Matcher) Normalize(s string) string {
	return strings.Join(normalizedTokens(s), " ")
}

func normalizedTokens(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if full, ok := monthNames[tok]; ok {
			tok = full
		}
		if _, drop := editionTokens[tok]; drop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Similarity returns a token-set ratio in [0,100]. Token order is ignored
// and a title that is a token-subset of the other scores 100, so
// "PC Gamer US No.405 2026" matches "PC Gamer US".
func (m *Matcher) Similarity(a, b string) int {
	ta := normalizedTokens(a)
	tb := normalizedTokens(b)

	if len(ta) == 0 || len(tb) == 0 {
		if len(ta) == 0 && len(tb) == 0 && strings.TrimSpace(a) != "" && strings.TrimSpace(b) != "" {
			// Both collapsed to nothing but neither input was empty;
			// fall back to comparing the raw strings.
			return levenshteinRatio(strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b)))
		}
		return 0
	}

	setA := toSet(ta)
	setB := toSet(tb)

	var shared, onlyA, onlyB []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared = append(shared, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(shared, " ")
	combinedA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	score := levenshteinRatio(base, combinedA)
	if s := levenshteinRatio(base, combinedB); s > score {
		score = s
	}
	if s := levenshteinRatio(combinedA, combinedB); s > score {
		score = s
	}
	return score
}

// IsMatch reports whether a and b score at or above the match threshold.
func (m *Matcher) IsMatch(a, b string) bool {
	return m.Similarity(a, b) >= m.threshold
}

// Classify puts the pair's score into the no-match / ambiguous / match bands.
func (m *Matcher) Classify(a, b string) (Verdict, int) {
	score := m.Similarity(a, b)
	switch {
	case score >= m.threshold:
		return VerdictMatch, score
	case score >= m.ambiguousThreshold:
		return VerdictAmbiguous, score
	default:
		return VerdictNoMatch, score
	}
}

// GroupKey derives a coarse dedup key from a title: the first three
// significant normalized tokens. Submissions sharing a key are treated as
// the same issue by queue dedup.
func (m *Matcher) GroupKey(title string) string {
	tokens := normalizedTokens(title)
	significant := make([]string, 0, 3)
	for _, tok := range tokens {
		if len(tok) <= 2 {
			continue
		}
		significant = append(significant, tok)
		if len(significant) == 3 {
			break
		}
	}
	if len(significant) == 0 {
		return strings.Join(tokens, "-")
	}
	return strings.Join(significant, "-")
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// levenshteinRatio converts edit distance to a 0-100 similarity score.
func levenshteinRatio(a, b string) int {
	if a == b {
		return 100
	}
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	score := (total - 2*dist) * 100 / total
	if score < 0 {
		score = 0
	}
	return score
}
