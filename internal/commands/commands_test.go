package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/incident"
	incident_errors "incident-ledger/pkg/errors"
)

func TestValidateRejectsBadInput(t *testing.T) {
	id := uuid.New()
	cases := map[string]Command{
		"create without name":     CreateIncident{Description: "d"},
		"create long description": CreateIncident{Name: "n", Description: strings.Repeat("x", 501)},
		"assign without incident": NewAssignAgent(uuid.Nil, uuid.New()),
		"assign without agent":    NewAssignAgent(id, uuid.Nil),
		"priority out of range":   NewSetPriority(id, incident.Priority(9)),
		"empty comment":           NewAddComment(id, "  ", "ops"),
		"status out of range":     NewUpdateStatus(id, incident.Status(-1)),
		"acknowledge with nil id": NewAcknowledge(uuid.Nil),
		"close with nil id":       NewClose(uuid.Nil),
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cmd.Validate(), incident_errors.ErrInvalidInput)
		})
	}

	assert.NoError(t, CreateIncident{Name: strings.Repeat("n", 100), Description: "d"}.Validate())
	assert.NoError(t, NewClose(id).Validate())
}

func TestBusRunsProxiesBeforeHandler(t *testing.T) {
	var handled []string
	bus := NewBus(ValidationProxy)
	bus.Register(TypeClose, HandlerFunc(func(_ context.Context, cmd Command) (Result, error) {
		handled = append(handled, cmd.CommandType())
		return Result{AggregateID: cmd.(IncidentCommand).TargetID()}, nil
	}))

	id := uuid.New()
	res, err := bus.Execute(context.Background(), NewClose(id))
	require.NoError(t, err)
	assert.Equal(t, id, res.AggregateID)

	_, err = bus.Execute(context.Background(), NewClose(uuid.Nil))
	assert.ErrorIs(t, err, incident_errors.ErrInvalidInput)

	_, err = bus.Execute(context.Background(), NewAcknowledge(id))
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	assert.Equal(t, []string{TypeClose}, handled)
}
