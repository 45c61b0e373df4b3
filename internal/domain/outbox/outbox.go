package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
)

// Status represents the processing state of an outbox event
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// OutboxEvent is one appended incident event waiting to be published to Redis.
// It is written in the same transaction as the event itself.
type OutboxEvent struct {
	ID            uuid.UUID
	IncidentID    uuid.UUID
	Sequence      int64
	Kind          string
	SchemaVersion int
	Payload       []byte
	OccurredAt    time.Time
	Status        Status
	RetryCount    int
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// Envelope is the message published on the event stream and the live channel.
type Envelope struct {
	IncidentID    uuid.UUID       `json:"incident_id"`
	Sequence      int64           `json:"sequence"`
	Kind          string          `json:"kind"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewOutboxEvent builds a pending row for an encoded event.
func NewOutboxEvent(e incident.Event, kind incident.Kind, version int, payload []byte, now time.Time) OutboxEvent {
	return OutboxEvent{
		ID:            uuid.New(),
		IncidentID:    e.AggregateID,
		Sequence:      e.Sequence,
		Kind:          string(kind),
		SchemaVersion: version,
		Payload:       payload,
		OccurredAt:    e.OccurredAt,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (o OutboxEvent) Envelope() Envelope {
	return Envelope{
		IncidentID:    o.IncidentID,
		Sequence:      o.Sequence,
		Kind:          o.Kind,
		SchemaVersion: o.SchemaVersion,
		OccurredAt:    o.OccurredAt,
		Payload:       json.RawMessage(o.Payload),
	}
}

// NewEnvelope encodes an in-memory event for publishing.
func NewEnvelope(e incident.Event) (Envelope, error) {
	kind, version, payload, err := incident.Encode(e.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		IncidentID:    e.AggregateID,
		Sequence:      e.Sequence,
		Kind:          string(kind),
		SchemaVersion: version,
		OccurredAt:    e.OccurredAt,
		Payload:       json.RawMessage(payload),
	}, nil
}

// Event decodes the envelope back into a domain event.
func (env Envelope) Event() (incident.Event, error) {
	p, err := incident.Decode(incident.Kind(env.Kind), env.SchemaVersion, env.Payload)
	if err != nil {
		return incident.Event{}, err
	}
	return incident.Event{
		AggregateID:   env.IncidentID,
		Sequence:      env.Sequence,
		SchemaVersion: env.SchemaVersion,
		OccurredAt:    env.OccurredAt,
		Payload:       p,
	}, nil
}
