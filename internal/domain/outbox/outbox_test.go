package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/incident"
)

func TestEnvelopeRoundTripsThroughJSON(t *testing.T) {
	e := incident.Event{
		AggregateID:   uuid.New(),
		Sequence:      4,
		SchemaVersion: 2,
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:       incident.CommentAdded{Text: "investigating", Author: "ops"},
	}

	env, err := NewEnvelope(e)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	got, err := decoded.Event()
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestOutboxRowCarriesEncodedEvent(t *testing.T) {
	now := time.Now().UTC()
	e := incident.Event{AggregateID: uuid.New(), Sequence: 1, SchemaVersion: 1, OccurredAt: now,
		Payload: incident.Created{Name: "Disk full", Description: "/var is full"}}
	kind, version, payload, err := incident.Encode(e.Payload)
	require.NoError(t, err)

	row := NewOutboxEvent(e, kind, version, payload, now)

	assert.Equal(t, StatusPending, row.Status)
	assert.Equal(t, "incident.created", row.Kind)
	got, err := row.Envelope().Event()
	require.NoError(t, err)
	assert.Equal(t, e.Payload, got.Payload)
}
