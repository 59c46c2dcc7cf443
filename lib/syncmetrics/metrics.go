// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncmetrics holds the Prometheus collectors for the sync
// engine. A nil *Metrics is valid and records nothing, so components
// accept an optional Metrics without branching at every call site.
package syncmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors registered by New.
type Metrics struct {
	registry *prometheus.Registry

	ticks           *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	manifestFetches *prometheus.CounterVec
	manifestVersion prometheus.Gauge
	pendingFields   prometheus.Gauge
	queryRequests   *prometheus.CounterVec
	socketActions   *prometheus.HistogramVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "ticks_total",
			Help:      "Submission ticks by outcome.",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "submissions_total",
			Help:      "Submission attempts by result.",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "rollbacks_total",
			Help:      "Failed submissions by rollback disposition.",
		}, []string{"disposition"}),
		manifestFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "manifest_checks_total",
			Help:      "Manifest checks by result.",
		}, []string{"result"}),
		manifestVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Name:      "manifest_version",
			Help:      "Version of the active manifest.",
		}),
		pendingFields: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Name:      "pending_fields",
			Help:      "Fields waiting in the delta store after the last tick.",
		}),
		queryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "query_requests_total",
			Help:      "On-demand snapshot queries by transport.",
		}, []string{"transport"}),
		socketActions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statesync",
			Name:      "socket_action_seconds",
			Help:      "Host socket action latency by action and result.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .05, .25, 1, 5},
		}, []string{"action", "result"}),
	}
	registry.MustRegister(
		m.ticks,
		m.submissions,
		m.rollbacks,
		m.manifestFetches,
		m.manifestVersion,
		m.pendingFields,
		m.queryRequests,
		m.socketActions,
	)
	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Rollback(disposition string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(disposition).Inc()
}

func (m *Metrics) ManifestCheck(result string) {
	if m == nil {
		return
	}
	m.manifestFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) ManifestVersion(version int) {
	if m == nil {
		return
	}
	m.manifestVersion.Set(float64(version))
}

func (m *Metrics) PendingFields(count int) {
	if m == nil {
		return
	}
	m.pendingFields.Set(float64(count))
}

func (m *Metrics) QueryRequest(transport string) {
	if m == nil {
		return
	}
	m.queryRequests.WithLabelValues(transport).Inc()
}

// SocketAction records one handled socket request. A nil err counts as
// "ok".
func (m *Metrics) SocketAction(action string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.socketActions.WithLabelValues(action, result).Observe(elapsed.Seconds())
}
