// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"` // user:pass,user2:pass2

	CORSOrigins []string `toml:"corsOrigins" mapstructure:"corsOrigins"`

	AnilistURL string `toml:"anilistUrl" mapstructure:"anilistUrl"`
	TMDBAPIKey string `toml:"tmdbApiKey" mapstructure:"tmdbApiKey"`
	TMDBURL    string `toml:"tmdbUrl" mapstructure:"tmdbUrl"`

	// ProviderURL is the base URL of the Consumet-compatible streaming provider API.
	ProviderURL     string `toml:"providerUrl" mapstructure:"providerUrl"`
	ProviderTimeout int    `toml:"providerTimeout" mapstructure:"providerTimeout"` // seconds
	ProviderRetries int    `toml:"providerRetries" mapstructure:"providerRetries"`

	MatchThreshold float64 `toml:"matchThreshold" mapstructure:"matchThreshold"`

	IndexerDelay     int    `toml:"indexerDelay" mapstructure:"indexerDelay"` // seconds between batches
	IndexerBatchSize int    `toml:"indexerBatchSize" mapstructure:"indexerBatchSize"`
	IndexerSource    string `toml:"indexerSource" mapstructure:"indexerSource"` // catalog or cached
}

// Indexer id sources.
const (
	// IndexerSourceCatalog walks every AniList anime id.
	IndexerSourceCatalog = "catalog"
	// IndexerSourceCached walks only canonical entries already cached locally.
	IndexerSourceCached = "cached"
)

// ProviderTimeoutDuration returns the per-request provider timeout.
func (c *Config) ProviderTimeoutDuration() time.Duration {
	if c.ProviderTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ProviderTimeout) * time.Second
}

// IndexerDelayDuration returns the configured pause between indexer batches.
func (c *Config) IndexerDelayDuration() time.Duration {
	if c.IndexerDelay < 0 {
		return 0
	}
	return time.Duration(c.IndexerDelay) * time.Second
}

// Validate checks values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		errs = append(errs, fmt.Errorf("matchThreshold must be in (0, 1), got %v", c.MatchThreshold))
	}
	if c.IndexerBatchSize < 0 {
		errs = append(errs, fmt.Errorf("indexerBatchSize must not be negative, got %d", c.IndexerBatchSize))
	}
	switch c.IndexerSource {
	case "", IndexerSourceCatalog, IndexerSourceCached:
	default:
		errs = append(errs, fmt.Errorf("indexerSource must be %q or %q, got %q", IndexerSourceCatalog, IndexerSourceCached, c.IndexerSource))
	}
	for _, raw := range []struct{ key, value string }{
		{"providerUrl", c.ProviderURL},
		{"anilistUrl", c.AnilistURL},
		{"tmdbUrl", c.TMDBURL},
	} {
		if strings.TrimSpace(raw.value) == "" {
			continue
		}
		u, err := url.Parse(raw.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s %q", raw.key, raw.value))
		}
	}

	return errors.Join(errs...)
}
