// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/anisync/anisync/internal/database"
	"github.com/anisync/anisync/internal/metrics/collector"
)

type Manager struct {
	registry       *prometheus.Registry
	storeCollector *StoreCollector

	Resolution *collector.ResolutionCollector
	Indexer    *collector.IndexerCollector
}

// NewManager builds a registry with runtime, database, store and service
// collectors. A nil stats source disables the store gauges.
func NewManager(stats StoreStats) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(database.NewMetricsCollector())

	storeCollector := NewStoreCollector(stats)
	registry.MustRegister(storeCollector)

	log.Info().Msg("Metrics manager initialized")

	return &Manager{
		registry:       registry,
		storeCollector: storeCollector,
		Resolution:     collector.NewResolutionCollector(registry),
		Indexer:        collector.NewIndexerCollector(registry),
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
