// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "palaver_realtime_connections",
		Help: "Open poll websocket connections",
	})
	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "palaver_realtime_dropped_events_total",
		Help: "Events not delivered because a connection send buffer was full",
	})
)

// RegisterMetrics registers realtime metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(connectionsGauge, droppedEvents)
}
