// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ResultOK labels successful loads.
const ResultOK = "ok"

var (
	// Loads counts load attempts by plugin and outcome. The result label is
	// "ok" or the failure's reason code.
	Loads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_plugin_loads_total",
			Help: "Total number of plugin load attempts",
		},
		[]string{"plugin", "result"},
	)

	// LoadDuration observes how long each load attempt took.
	LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palaver_plugin_load_duration_seconds",
			Help:    "Time spent loading a plugin, including download and initialization",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"plugin"},
	)
)

// RegisterMetrics registers loader metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Loads, LoadDuration)
}
