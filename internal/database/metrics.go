// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	beginTxRecoveryTotal atomic.Uint64
	queuedWritesTotal    atomic.Uint64
	failedWritesTotal    atomic.Uint64
)

func recordBeginTxRecovery() {
	beginTxRecoveryTotal.Add(1)
}

func recordQueuedWrite(err error) {
	queuedWritesTotal.Add(1)
	if err != nil {
		failedWritesTotal.Add(1)
	}
}

// MetricsCollector exposes the writer counters. The counters are process
// wide, so one collector covers every open DB.
type MetricsCollector struct {
	beginTxRecoveryDesc *prometheus.Desc
	writesDesc          *prometheus.Desc
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		beginTxRecoveryDesc: prometheus.NewDesc(
			"anisync_db_begin_tx_recovery_total",
			"Write transactions that found the connection already inside BEGIN and recovered with rollback+retry",
			nil,
			nil,
		),
		writesDesc: prometheus.NewDesc(
			"anisync_db_queued_writes_total",
			"Single statement writes executed by the writer goroutine, by result",
			[]string{"result"},
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.beginTxRecoveryDesc
	ch <- c.writesDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.beginTxRecoveryDesc, prometheus.CounterValue, float64(beginTxRecoveryTotal.Load()))

	failed := failedWritesTotal.Load()
	ch <- prometheus.MustNewConstMetric(c.writesDesc, prometheus.CounterValue, float64(queuedWritesTotal.Load()-failed), "ok")
	ch <- prometheus.MustNewConstMetric(c.writesDesc, prometheus.CounterValue, float64(failed), "error")
}
