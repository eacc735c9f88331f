// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/palaver/pkg/errutil"
)

// Result labels for poll action metrics.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Actions counts poll actions by action name and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Actions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "palaver_poll_actions_total",
		Help: "Total number of poll actions handled by the coordinator",
	},
	[]string{"action", "result"},
)

// RegisterMetrics registers poll metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Actions)
}

// recordAction classifies err and increments the action counter.
func recordAction(action string, err error) {
	result := ResultOK
	switch {
	case err == nil:
	case IsBusinessError(err):
		result = ResultRejected
	default:
		result = ResultError
	}
	Actions.WithLabelValues(action, result).Inc()
}

// errorCode is shorthand used when annotating spans.
func errorCode(err error) string {
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "INTERNAL"
}
