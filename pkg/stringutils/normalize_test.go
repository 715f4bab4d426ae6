// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizerCachesTransform(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	n := NewNormalizer(time.Minute, func(s string) string {
		calls.Add(1)
		return strings.ToUpper(s)
	})

	assert.Equal(t, "ABC", n.Normalize("abc"))
	assert.Equal(t, "ABC", n.Normalize("abc"))
	assert.Equal(t, int32(1), calls.Load())

	n.Clear("abc")
	assert.Equal(t, "ABC", n.Normalize("abc"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNormalizeUnicode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"Shōgun", "Shogun"},
		{"Amélie", "Amelie"},
		{"Björk", "Bjork"},
		{"Ærø", "AEro"},
		{"ﬁre", "fire"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeUnicode(tt.input))
		})
	}
}

func TestNormalizeForMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"colon season", "Shingeki no Kyojin: The Final Season", "shingeki no kyojin the final season"},
		{"colon joined", "Re:ZERO", "re zero"},
		{"semicolon", "Steins;Gate", "steins gate"},
		{"apostrophe", "JoJo's Bizarre Adventure", "jojos bizarre adventure"},
		{"curly apostrophe", "Frieren: Beyond Journey’s End", "frieren beyond journeys end"},
		{"hyphen", "Kaguya-sama wa Kokurasetai", "kaguya sama wa kokurasetai"},
		{"ampersand", "Spice & Wolf", "spice and wolf"},
		{"macron", "Ōkami-san", "okami san"},
		{"brackets", "One Piece (TV)", "one piece tv"},
		{"whitespace", "  Naruto \t Shippuden ", "naruto shippuden"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeForMatching(tt.input))
		})
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"one", "punch", "man"}, Tokens("One-Punch Man"))
	assert.Equal(t, []string{"ah", "my", "goddess"}, Tokens("Ah! My Goddess! My Goddess"))
	assert.Empty(t, Tokens("!!"))
}
