// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

type IndexerCollector struct {
	Running      prometheus.Gauge
	ItemsTotal   *prometheus.CounterVec
	BatchesTotal prometheus.Counter
}

func NewIndexerCollector(r *prometheus.Registry) *IndexerCollector {
	m := &IndexerCollector{
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anisync",
			Subsystem: "indexer",
			Name:      "running",
			Help:      "Whether a background sweep is running (1) or not (0)",
		}),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anisync",
			Subsystem: "indexer",
			Name:      "items_total",
			Help:      "Total number of canonical ids processed by outcome",
		}, []string{"outcome"}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anisync",
			Subsystem: "indexer",
			Name:      "batches_total",
			Help:      "Total number of completed batches",
		}),
	}

	r.MustRegister(m.Running)
	r.MustRegister(m.ItemsTotal)
	r.MustRegister(m.BatchesTotal)
	return m
}

func (m *IndexerCollector) SetRunning(running bool) {
	if running {
		m.Running.Set(1)
		return
	}
	m.Running.Set(0)
}

func (m *IndexerCollector) ItemProcessed(outcome string) {
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

func (m *IndexerCollector) BatchCompleted() {
	m.BatchesTotal.Inc()
}
