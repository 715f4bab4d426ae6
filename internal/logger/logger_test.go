// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anisync/anisync/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"TRACE":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"INFO":    zerolog.InfoLevel,
		"unknown": zerolog.InfoLevel,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupWritesToFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	dir := t.TempDir()
	closer, err := Setup(&domain.Config{
		LogLevel:      "DEBUG",
		LogPath:       "log/anisync.log",
		DataDir:       dir,
		LogMaxSize:    1,
		LogMaxBackups: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, closer)

	log.Info().Msg("hello from test")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "log", "anisync.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
