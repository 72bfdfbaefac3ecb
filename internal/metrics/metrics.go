/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the operator's Prometheus collectors through the
// controller-runtime metrics registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const subsystem = "integration_operator"

// Handler outcomes.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultAborted = "aborted"
	ResultPanic   = "panic"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Count of watch events dispatched, by resource kind and event type.",
		},
		[]string{"kind", "type"},
	)
	handlerResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "handler_results_total",
			Help:      "Count of event handler outcomes, by resource kind, handler and result.",
		},
		[]string{"kind", "handler", "result"},
	)
	hookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "hook_duration_seconds",
			Help:      "Time from creating a hook Job until it succeeded or gave up, by hook stage.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"hook"},
	)
	replicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "replications_total",
			Help:      "Count of replicated objects applied or cleaned up.",
		},
		[]string{"operation"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(eventsTotal)
		metrics.Registry.MustRegister(handlerResultsTotal)
		metrics.Registry.MustRegister(hookDuration)
		metrics.Registry.MustRegister(replicationsTotal)
	})
}

// RecordEvent counts a dispatched watch event.
func RecordEvent(kind, eventType string) {
	eventsTotal.WithLabelValues(kind, eventType).Inc()
}

// RecordHandlerResult counts the outcome of one handler invocation.
func RecordHandlerResult(kind, handler, result string) {
	handlerResultsTotal.WithLabelValues(kind, handler, result).Inc()
}

// RecordHookDuration observes how long a hook Job took.
func RecordHookDuration(hook string, d time.Duration) {
	hookDuration.WithLabelValues(hook).Observe(d.Seconds())
}

// RecordReplication counts an applied or cleaned up replica.
func RecordReplication(operation string) {
	replicationsTotal.WithLabelValues(operation).Inc()
}
