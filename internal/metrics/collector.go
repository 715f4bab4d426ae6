// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// StoreStats reports the size of the local caches.
type StoreStats interface {
	Providers() []string
	RecordCounts(ctx context.Context, provider string) (resolved, unresolved int, err error)
	CanonicalCount(ctx context.Context) (int, error)
}

// StoreCollector reads cache sizes from the database at scrape time.
type StoreCollector struct {
	stats StoreStats

	providerRecordsDesc  *prometheus.Desc
	canonicalEntriesDesc *prometheus.Desc
}

func NewStoreCollector(stats StoreStats) *StoreCollector {
	return &StoreCollector{
		stats: stats,

		providerRecordsDesc: prometheus.NewDesc(
			"anisync_provider_records",
			"Number of cached provider records by provider and resolution state",
			[]string{"provider", "state"},
			nil,
		),
		canonicalEntriesDesc: prometheus.NewDesc(
			"anisync_canonical_entries",
			"Number of cached canonical entries",
			nil,
			nil,
		),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.providerRecordsDesc
	ch <- c.canonicalEntriesDesc
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		log.Debug().Msg("Store stats source is nil, skipping store metrics")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if count, err := c.stats.CanonicalCount(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to count canonical entries for metrics")
	} else {
		ch <- prometheus.MustNewConstMetric(c.canonicalEntriesDesc, prometheus.GaugeValue, float64(count))
	}

	for _, provider := range c.stats.Providers() {
		resolved, unresolved, err := c.stats.RecordCounts(ctx, provider)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider).Msg("Failed to count provider records for metrics")
			continue
		}

		ch <- prometheus.MustNewConstMetric(c.providerRecordsDesc, prometheus.GaugeValue, float64(resolved), provider, "resolved")
		ch <- prometheus.MustNewConstMetric(c.providerRecordsDesc, prometheus.GaugeValue, float64(unresolved), provider, "unresolved")
	}
}
