package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCountCommandsAndProjections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCommand("close", nil, 10*time.Millisecond)
	m.ObserveCommand("close", errors.New("boom"), time.Millisecond)
	m.IncConflict("close")
	m.IncProjected("incident.created", OutcomeApplied)
	m.IncProjected("incident.created", OutcomeDuplicate)
	m.IncPublished(OutcomeOK)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("close", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("close", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("close")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.projected.WithLabelValues("incident.created", OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues(OutcomeOK)))

	count, err := testutil.GatherAndCount(reg, "incident_command_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("x", nil, time.Second)
		m.IncConflict("x")
		m.IncProjected("x", OutcomeApplied)
		m.IncPublished(OutcomeFailed)
	})
	assert.NotPanics(t, func() { New(nil).IncConflict("x") })
}
