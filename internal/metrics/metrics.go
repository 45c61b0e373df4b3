package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the counters below.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeApplied    = "applied"
	OutcomeDuplicate  = "duplicate"
	OutcomeOutOfOrder = "out_of_order"
	OutcomeFailed     = "failed"
)

// Metrics records command, projector and outbox activity. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	conflicts       *prometheus.CounterVec
	projected       *prometheus.CounterVec
	published       *prometheus.CounterVec
}

// New registers the incident metrics on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_commands_total",
			Help: "Incident commands handled, by command and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incident_command_duration_seconds",
			Help:    "Duration of incident commands including conflict retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_command_conflicts_total",
			Help: "Version conflicts hit while appending, by command.",
		}, []string{"command"}),
		projected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_projector_events_total",
			Help: "Events handed to the read-model projector, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_outbox_published_total",
			Help: "Outbox rows published to Redis, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.commands, m.commandDuration, m.conflicts, m.projected, m.published)
	return m
}

func (m *Metrics) ObserveCommand(command string, err error, duration time.Duration) {
	if m == nil || m.commands == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.commands.WithLabelValues(normalizeLabel(command), outcome).Inc()
	m.commandDuration.WithLabelValues(normalizeLabel(command)).Observe(duration.Seconds())
}

func (m *Metrics) IncConflict(command string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(command)).Inc()
}

func (m *Metrics) IncProjected(kind, outcome string) {
	if m == nil || m.projected == nil {
		return
	}
	m.projected.WithLabelValues(normalizeLabel(kind), outcome).Inc()
}

func (m *Metrics) IncPublished(outcome string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(outcome).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
