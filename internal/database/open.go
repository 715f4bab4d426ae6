// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/anisync/anisync/internal/domain"
)

const defaultDatabaseFile = "anisync.db"

// ResolvePath returns the database path for cfg. An explicit databasePath
// wins; otherwise the file lives in dataDir, falling back to fallbackDir.
func ResolvePath(cfg *domain.Config, fallbackDir string) string {
	if cfg != nil {
		if p := strings.TrimSpace(cfg.DatabasePath); p != "" {
			return p
		}
		if dir := strings.TrimSpace(cfg.DataDir); dir != "" {
			return filepath.Join(dir, defaultDatabaseFile)
		}
	}
	return filepath.Join(fallbackDir, defaultDatabaseFile)
}

// OpenFromConfig opens (and migrates) the SQLite database described by cfg.
func OpenFromConfig(cfg *domain.Config, fallbackDir string) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	return New(ResolvePath(cfg, fallbackDir))
}
