// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability exposes the gateway's Prometheus metrics.
//
// Metrics are constructed against an injected registry rather than the
// global default, so tests can build isolated instances and the gateway
// controls exactly what its /metrics endpoint serves. Label values are
// drawn from small fixed sets (channel names, reason codes); user
// identifiers and message content never become labels.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opencrust-org/opencrust/pkg/redact"
)

// =============================================================================
// Gateway Metrics
// =============================================================================

// Metrics holds every Prometheus collector the gateway records.
type Metrics struct {
	// AuthFailures counts rejected authentication attempts.
	// Labels: surface (websocket, admin_api)
	AuthFailures *prometheus.CounterVec

	// ConnectionsActive tracks currently open websocket sessions.
	ConnectionsActive prometheus.Gauge

	// ConnectionsTotal counts accepted websocket sessions.
	ConnectionsTotal prometheus.Counter

	// MessagesTotal counts inbound messages by pipeline outcome.
	// Labels: channel, outcome (ok, rate_limited, unauthorized, rejected, oversized)
	MessagesTotal *prometheus.CounterVec

	// RateLimited counts rate limiter rejections by scope.
	// Labels: scope (origin, connection)
	RateLimited *prometheus.CounterVec

	// ValidationRejections counts validator refusals by attack family.
	// Labels: category
	ValidationRejections *prometheus.CounterVec

	// PairingClaims counts pairing code claim attempts by outcome.
	// Labels: outcome (authorized, invalid, expired, already_used)
	PairingClaims *prometheus.CounterVec

	// VaultOperations counts vault mutations through the admin surface.
	// Labels: operation (set, remove), status (ok, error)
	VaultOperations *prometheus.CounterVec
}

// NewMetrics registers all gateway collectors on reg and returns them.
// Pass prometheus.NewRegistry() in tests for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "auth_failures_total",
			Help:      "Rejected authentication attempts by surface",
		}, []string{"surface"}),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Currently open websocket sessions",
		}),

		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Accepted websocket sessions",
		}),

		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "messages_total",
			Help:      "Inbound messages by pipeline outcome",
		}, []string{"channel", "outcome"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Rate limiter rejections by scope",
		}, []string{"scope"}),

		ValidationRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "validation_rejections_total",
			Help:      "Validator refusals by attack family",
		}, []string{"category"}),

		PairingClaims: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "pairing_claims_total",
			Help:      "Pairing code claim attempts by outcome",
		}, []string{"outcome"}),

		VaultOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opencrust",
			Subsystem: "gateway",
			Name:      "vault_operations_total",
			Help:      "Vault mutations through the admin surface",
		}, []string{"operation", "status"}),
	}
}

// =============================================================================
// Redaction Collector
// =============================================================================

// redactionCollector reads the redactor's per-rule counters at scrape
// time, so redaction activity reaches /metrics without putting a second
// set of counters on the logging hot path.
type redactionCollector struct {
	desc  *prometheus.Desc
	stats func() redact.Stats
}

// NewRedactionCollector adapts a redactor's GetStats into a Prometheus
// collector. Register it alongside NewMetrics on the same registry.
func NewRedactionCollector(stats func() redact.Stats) prometheus.Collector {
	return &redactionCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName("opencrust", "gateway", "redactions_applied_total"),
			"Log redactions by rule",
			[]string{"rule"}, nil),
		stats: stats,
	}
}

func (c *redactionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *redactionCollector) Collect(ch chan<- prometheus.Metric) {
	for rule, count := range c.stats().ByRule {
		ch <- prometheus.MustNewConstMetric(c.desc,
			prometheus.CounterValue, float64(count), rule)
	}
}
