// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package metrics provides Prometheus instrumentation for the sync engine:
// outbox depth and churn, sync pass outcomes and latency, circuit breaker
// state, and the localhost API surface. Metrics are exposed at /metrics on
// the local HTTP listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbox metrics

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_operations",
			Help: "Current number of queued, unacknowledged operations",
		},
	)

	OutboxEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_enqueued_total",
			Help: "Total operations enqueued, by operation type",
		},
		[]string{"type"},
	)

	OutboxCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_coalesced_total",
			Help: "Total queued toggles replaced by a newer toggle for the same todo",
		},
	)

	OutboxDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dropped_total",
			Help: "Total operations permanently dropped, by reason (applied, duplicate, rejected)",
		},
		[]string{"reason"},
	)

	// Sync pass metrics

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full sync passes in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"trigger"},
	)

	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_passes_total",
			Help: "Total sync passes, by trigger and outcome (updated, offline, error, skipped)",
		},
		[]string{"trigger", "outcome"},
	)

	SyncLastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync pass",
		},
	)

	BatchOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_batch_operations_total",
			Help: "Total per-operation batch results, by status (applied, duplicate, failed)",
		},
		[]string{"status"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker, by result (success, failure, rejected)",
		},
		[]string{"name", "result"},
	)

	// Connectivity metrics

	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connectivity_online",
			Help: "Whether the remote server is currently reachable (1) or not (0)",
		},
	)

	ConnectivityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectivity_transitions_total",
			Help: "Total connectivity transitions, by direction (online, offline)",
		},
		[]string{"direction"},
	)

	// Local API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total localhost API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Localhost API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Currently connected UI websocket clients",
		},
	)
)

// RecordSyncPass records one finished sync pass.
func RecordSyncPass(trigger, outcome string, elapsed time.Duration) {
	SyncPassesTotal.WithLabelValues(trigger, outcome).Inc()
	SyncDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
}
