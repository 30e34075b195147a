// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// metrics groups the Prometheus instruments a batch run reports
// through. Each Orchestrator registers its own set against whatever
// registerer the caller supplies, so running several orchestrators in
// one process (tests, multi-region batches) doesn't collide on
// already-registered collectors.
type metrics struct {
	originsProcessed *prometheus.CounterVec
	originsFailed    *prometheus.CounterVec
	batchInProgress  prometheus.Gauge
	originDuration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		originsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "howfar",
			Subsystem: "batch",
			Name:      "origins_processed_total",
			Help:      "Number of origins for which a full band set was saved, by mode.",
		}, []string{"mode"}),
		originsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "howfar",
			Subsystem: "batch",
			Name:      "origins_failed_total",
			Help:      "Number of origins marked failed, by mode.",
		}, []string{"mode"}),
		batchInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "howfar",
			Subsystem: "batch",
			Name:      "origins_in_progress",
			Help:      "Number of origins currently being computed by this process.",
		}),
		originDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "howfar",
			Subsystem: "batch",
			Name:      "origin_seconds",
			Help:      "Wall time to compute and save one origin's full band set.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.originsProcessed, m.originsFailed, m.batchInProgress, m.originDuration)
	}
	return m
}
