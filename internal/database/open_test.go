// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anisync/anisync/internal/domain"
)

func TestResolvePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      *domain.Config
		fallback string
		want     string
	}{
		{
			name:     "explicit path wins",
			cfg:      &domain.Config{DatabasePath: "/var/db/anisync/custom.db", DataDir: "/data"},
			fallback: "/config",
			want:     "/var/db/anisync/custom.db",
		},
		{
			name:     "data dir",
			cfg:      &domain.Config{DataDir: "/data"},
			fallback: "/config",
			want:     filepath.Join("/data", "anisync.db"),
		},
		{
			name:     "fallback dir",
			cfg:      &domain.Config{},
			fallback: "/config",
			want:     filepath.Join("/config", "anisync.db"),
		},
		{
			name:     "nil config",
			fallback: "/config",
			want:     filepath.Join("/config", "anisync.db"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolvePath(tt.cfg, tt.fallback))
		})
	}
}

func TestOpenFromConfig(t *testing.T) {
	_, err := OpenFromConfig(nil, t.TempDir())
	require.Error(t, err)

	dir := t.TempDir()
	db, err := OpenFromConfig(&domain.Config{DataDir: dir}, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.FileExists(t, filepath.Join(dir, "anisync.db"))
}
