// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrust-org/opencrust/pkg/redact"
)

func TestNewMetrics_RegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AuthFailures.WithLabelValues("websocket").Inc()
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
	m.MessagesTotal.WithLabelValues("telegram", "ok").Add(3)
	m.RateLimited.WithLabelValues("connection").Inc()
	m.ValidationRejections.WithLabelValues("instruction_override").Inc()
	m.PairingClaims.WithLabelValues("authorized").Inc()
	m.VaultOperations.WithLabelValues("set", "ok").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("websocket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("telegram", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide; with the
	// global registry a second NewMetrics would panic on duplicates.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.ConnectionsTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ConnectionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ConnectionsTotal))
}

func TestRedactionCollector_ReportsRedactorActivity(t *testing.T) {
	r, err := redact.New()
	require.NoError(t, err)

	// Two telegram token redactions, performed by the redactor itself.
	r.Apply("token 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1")
	r.Apply("token 987654321:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1")

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewRedactionCollector(r.GetStats))

	count, err := testutil.GatherAndCount(reg, "opencrust_gateway_redactions_applied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "expected one labeled series")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	metric := families[0].GetMetric()[0]
	assert.Equal(t, "telegram_bot_token", metric.GetLabel()[0].GetValue())
	assert.Equal(t, 2.0, metric.GetCounter().GetValue())
}
