// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// decision service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring flag
// decisioning. Metrics include:
//   - Request counters (by endpoint, status)
//   - Decision counters (by source rule type)
//   - Latency histograms (decision duration, datafile fetch duration)
//   - Cache hit/miss counters (CMAB, segments)
//   - Active SSE subscriber gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for decision metrics
const decisionSubsystem = "decision"

// DecisionMetrics holds all Prometheus metrics for the decision API.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring decision
// throughput and dependency health. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type DecisionMetrics struct {
	// RequestsTotal counts API requests by endpoint and status class.
	// Labels: endpoint (decide, activate, track, ...), status (2xx, 4xx, 5xx)
	RequestsTotal *prometheus.CounterVec

	// DecisionsTotal counts resolved flag decisions by winning source.
	// Labels: source (forced, holdout, experiment, cmab, rollout, none)
	DecisionsTotal *prometheus.CounterVec

	// DecisionDurationSeconds measures end-to-end decision latency.
	// Labels: endpoint (decide, activate, batch)
	DecisionDurationSeconds *prometheus.HistogramVec

	// DatafileFetchDurationSeconds measures datafile acquisition latency.
	// Labels: outcome (success, error)
	DatafileFetchDurationSeconds *prometheus.HistogramVec

	// CacheLookupsTotal counts cache probes by cache and outcome.
	// Labels: cache (cmab, segments), outcome (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// BatchOperationsTotal counts replayed batch operations by status class.
	// Labels: status (2xx, 4xx, 5xx)
	BatchOperationsTotal *prometheus.CounterVec

	// NotificationSubscribers tracks open SSE subscriptions.
	// Labels: none
	NotificationSubscribers prometheus.Gauge

	// NotificationDropsTotal counts events dropped on slow subscribers.
	// Labels: none
	NotificationDropsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of DecisionMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *DecisionMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *DecisionMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *DecisionMetrics {
	DefaultMetrics = &DecisionMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),

		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "decisions_total",
				Help:      "Total flag decisions by winning source",
			},
			[]string{"source"},
		),

		DecisionDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "decision_duration_seconds",
				Help:      "End-to-end decision latency in seconds",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1.0},
			},
			[]string{"endpoint"},
		),

		DatafileFetchDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "datafile_fetch_duration_seconds",
				Help:      "Datafile acquisition latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"outcome"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "cache_lookups_total",
				Help:      "Cache probes by cache and outcome",
			},
			[]string{"cache", "outcome"},
		),

		BatchOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "batch_operations_total",
				Help:      "Replayed batch operations by status class",
			},
			[]string{"status"},
		),

		NotificationSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "notification_subscribers",
				Help:      "Open SSE notification subscriptions",
			},
		),

		NotificationDropsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: decisionSubsystem,
				Name:      "notification_drops_total",
				Help:      "Events dropped because a subscriber buffer was full",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Decision Sources
// =============================================================================

// Source labels the rule type that produced a decision.
type Source string

const (
	// SourceForced is a request-scoped forced decision.
	SourceForced Source = "forced"

	// SourceHoldout is a holdout bucketing.
	SourceHoldout Source = "holdout"

	// SourceExperiment is an A/B experiment bucketing.
	SourceExperiment Source = "experiment"

	// SourceCmab is a contextual bandit prediction.
	SourceCmab Source = "cmab"

	// SourceRollout is a delivery rule bucketing.
	SourceRollout Source = "rollout"

	// SourceNone means no rule matched.
	SourceNone Source = "none"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed API request.
func (m *DecisionMetrics) RecordRequest(endpoint string, status int) {
	m.RequestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
}

// RecordDecision records a resolved decision by its winning source.
func (m *DecisionMetrics) RecordDecision(source Source) {
	m.DecisionsTotal.WithLabelValues(string(source)).Inc()
}

// RecordDecisionDuration records the end-to-end decision latency.
func (m *DecisionMetrics) RecordDecisionDuration(endpoint string, seconds float64) {
	m.DecisionDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordDatafileFetch records a datafile acquisition attempt.
func (m *DecisionMetrics) RecordDatafileFetch(seconds float64, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.DatafileFetchDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordCacheLookup records one cache probe.
func (m *DecisionMetrics) RecordCacheLookup(cache string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(cache, outcome).Inc()
}

// RecordBatchOperation records one replayed batch operation.
func (m *DecisionMetrics) RecordBatchOperation(status int) {
	m.BatchOperationsTotal.WithLabelValues(statusClass(status)).Inc()
}

// SubscriberOpened increments the SSE subscriber gauge.
func (m *DecisionMetrics) SubscriberOpened() {
	m.NotificationSubscribers.Inc()
}

// SubscriberClosed decrements the SSE subscriber gauge.
func (m *DecisionMetrics) SubscriberClosed() {
	m.NotificationSubscribers.Dec()
}

// statusClass collapses an HTTP status into its class label.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
