// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	unicodeNormalizer  = NewNormalizer(defaultNormalizerTTL, foldUnicode)
	matchingNormalizer = NewNormalizer(defaultNormalizerTTL, normalizeTitle)

	// Letters NFKD leaves alone.
	letterFolder = strings.NewReplacer(
		"æ", "ae", "Æ", "AE",
		"œ", "oe", "Œ", "OE",
		"ø", "o", "Ø", "O",
		"ß", "ss",
		"ð", "d", "Ð", "D",
		"þ", "th", "Þ", "TH",
	)

	apostrophes = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "")
)

func foldUnicode(s string) string {
	s = letterFolder.Replace(s)

	// transform.Chain keeps state; build one per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

func normalizeTitle(s string) string {
	s = unicodeNormalizer.Normalize(s)
	s = strings.ToLower(s)
	s = apostrophes.Replace(s)
	s = strings.ReplaceAll(s, "&", " and ")

	// Everything that is not a letter or digit separates words:
	// "Re:Zero", "Steins;Gate", "Spider-Man", "(TV)".
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	return strings.Join(strings.Fields(s), " ")
}

// NormalizeUnicode removes diacritics and decomposes ligatures.
//   - "Shōgun" → "Shogun"
//   - "Björk" → "Bjork"
//   - "ﬁ" → "fi"
func NormalizeUnicode(s string) string {
	return unicodeNormalizer.Normalize(s)
}

// NormalizeForMatching folds a title to lowercase words:
//   - "Shingeki no Kyojin: The Final Season" → "shingeki no kyojin the final season"
//   - "Re:ZERO" → "re zero"
//   - "JoJo's Bizarre Adventure" → "jojos bizarre adventure"
//   - "Kaguya-sama wa Kokurasetai" → "kaguya sama wa kokurasetai"
//
// Results are cached per input for five minutes.
func NormalizeForMatching(s string) string {
	return matchingNormalizer.Normalize(s)
}

// Tokens returns the distinct words of the normalized title in first-seen order.
func Tokens(s string) []string {
	fields := strings.Fields(NormalizeForMatching(s))
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
