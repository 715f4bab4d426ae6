// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:             7272,
		MatchThreshold:   0.8,
		IndexerBatchSize: 25,
		ProviderURL:      "http://localhost:3000",
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("rejects out of range threshold", func(t *testing.T) {
		for _, threshold := range []float64{0, 1, 1.5} {
			cfg := validConfig()
			cfg.MatchThreshold = threshold

			err := cfg.Validate()
			require.Error(t, err, "threshold %v", threshold)
			assert.Contains(t, err.Error(), "matchThreshold")
		}
	})

	t.Run("rejects unknown indexer source", func(t *testing.T) {
		cfg := validConfig()
		cfg.IndexerSource = "everything"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "indexerSource")

		cfg.IndexerSource = IndexerSourceCached
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects relative provider url", func(t *testing.T) {
		cfg := validConfig()
		cfg.ProviderURL = "localhost:3000/api"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "providerUrl")
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = 0
		cfg.IndexerBatchSize = -1

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port")
		assert.Contains(t, err.Error(), "indexerBatchSize")
	})
}

func TestConfigDurations(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeoutDuration())
	assert.Equal(t, time.Duration(0), cfg.IndexerDelayDuration())

	cfg.ProviderTimeout = 3
	cfg.IndexerDelay = 10
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.IndexerDelayDuration())
}
