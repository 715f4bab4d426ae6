// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package matcher picks the provider search result that corresponds to a
// canonical entry when the two share no key.
package matcher

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"

	"github.com/anisync/anisync/pkg/stringutils"
)

const (
	DefaultThreshold = 0.8

	// DefaultBonus is added once for an exact year match and once for an exact
	// episode count match.
	DefaultBonus = 0.05
)

// TitleSet holds the title variants of a canonical entry. Any may be empty.
type TitleSet struct {
	Primary   string
	Alternate string
	Native    string
}

func (t TitleSet) all() []string {
	out := make([]string, 0, 3)
	for _, s := range []string{t.Primary, t.Alternate, t.Native} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Criteria identifies the canonical entry being resolved. Zero Year or
// Episodes means unknown.
type Criteria struct {
	Titles   TitleSet
	Year     int
	Episodes int
}

// Candidate is one provider search result.
type Candidate struct {
	ID       string
	Title    string
	Year     int
	Episodes int
}

// Scored is a candidate with its composite score and original position.
type Scored struct {
	Candidate
	Score float64
	Index int
}

type Config struct {
	Threshold float64
	Bonus     float64
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Bonus: DefaultBonus}
}

// Engine scores candidates. It is stateless apart from a year parse cache
// and safe for concurrent use.
type Engine struct {
	threshold float64
	bonus     float64
	years     *stringutils.Normalizer[string, int]
}

func New(cfg Config) *Engine {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Bonus < 0 {
		cfg.Bonus = DefaultBonus
	}

	return &Engine{
		threshold: cfg.Threshold,
		bonus:     cfg.Bonus,
		years: stringutils.NewNormalizer(5*time.Minute, func(title string) int {
			return rls.ParseString(title).Year
		}),
	}
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Resolve returns the best candidate whose score exceeds the threshold.
// Ties go to the earliest candidate. An empty list never matches.
func (e *Engine) Resolve(criteria Criteria, candidates []Candidate) (Candidate, bool) {
	bestIdx := -1
	bestScore := 0.0

	for i, c := range candidates {
		s := e.Score(criteria, c)
		if bestIdx == -1 || s > bestScore {
			bestIdx, bestScore = i, s
		}
	}

	if bestIdx == -1 || bestScore <= e.threshold {
		return Candidate{}, false
	}
	return candidates[bestIdx], true
}

// Rank returns every candidate scored, best first, stable on ties.
func (e *Engine) Rank(criteria Criteria, candidates []Candidate) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Candidate: c, Score: e.Score(criteria, c), Index: i}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Score is the best title similarity plus agreement bonuses, capped at 1.
func (e *Engine) Score(criteria Criteria, c Candidate) float64 {
	score := 0.0
	for _, title := range criteria.Titles.all() {
		if s := TitleSimilarity(title, c.Title); s > score {
			score = s
		}
	}

	if criteria.Year > 0 && e.inferYear(c) == criteria.Year {
		score += e.bonus
	}
	if criteria.Episodes > 0 && c.Episodes == criteria.Episodes {
		score += e.bonus
	}

	if score > 1 {
		score = 1
	}
	return score
}

func (e *Engine) inferYear(c Candidate) int {
	if c.Year > 0 {
		return c.Year
	}
	if c.Title == "" {
		return 0
	}
	return e.years.Normalize(c.Title)
}

// TitleSimilarity compares two titles after normalization and returns the
// larger of the edit-distance ratio and the token overlap, in [0,1].
func TitleSimilarity(a, b string) float64 {
	na := stringutils.NormalizeForMatching(a)
	nb := stringutils.NormalizeForMatching(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	return max(levenshteinRatio(na, nb), tokenOverlap(a, b))
}

func levenshteinRatio(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// tokenOverlap is the Jaccard index of the two titles' word sets.
func tokenOverlap(a, b string) float64 {
	ta := stringutils.Tokens(a)
	tb := stringutils.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}

	shared := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			shared++
		}
	}

	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}
