// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ResolutionCollector counts record store lookups, resolutions and cascades.
type ResolutionCollector struct {
	CacheLookupsTotal    *prometheus.CounterVec
	ResolutionsTotal     *prometheus.CounterVec
	CascadesTotal        *prometheus.CounterVec
	CascadeFailuresTotal *prometheus.CounterVec
}

func NewResolutionCollector(r *prometheus.Registry) *ResolutionCollector {
	m := &ResolutionCollector{
		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anisync",
			Subsystem: "records",
			Name:      "cache_lookups_total",
			Help:      "Total number of record store lookups by provider and result",
		}, []string{"provider", "result"}),
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anisync",
			Subsystem: "records",
			Name:      "resolutions_total",
			Help:      "Total number of canonical id resolutions by provider and outcome",
		}, []string{"provider", "outcome"}),
		CascadesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anisync",
			Subsystem: "cascade",
			Name:      "triggered_total",
			Help:      "Total number of cascades triggered by an episode set change",
		}, []string{"provider"}),
		CascadeFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anisync",
			Subsystem: "cascade",
			Name:      "listener_failures_total",
			Help:      "Total number of failed cascade listener runs",
		}, []string{"listener"}),
	}

	r.MustRegister(m.CacheLookupsTotal)
	r.MustRegister(m.ResolutionsTotal)
	r.MustRegister(m.CascadesTotal)
	r.MustRegister(m.CascadeFailuresTotal)
	return m
}

func (m *ResolutionCollector) CacheLookup(provider string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(provider, result).Inc()
}

func (m *ResolutionCollector) Resolution(provider, outcome string) {
	m.ResolutionsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *ResolutionCollector) CascadeTriggered(provider string) {
	m.CascadesTotal.WithLabelValues(provider).Inc()
}

func (m *ResolutionCollector) ListenerFailed(listener string) {
	m.CascadeFailuresTotal.WithLabelValues(listener).Inc()
}
