package projection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/repository"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

func newProjector() (*Projector, *repository.MemoryReadModelStore) {
	store := repository.NewMemoryReadModelStore()
	return NewProjector(store, logger.NewNop(), nil), store
}

// history builds a full lifecycle for one incident.
func history(t *testing.T) (*incident.Incident, []incident.Event) {
	t.Helper()
	inc, err := incident.Create(uuid.New(), "Disk full", "/var is full")
	require.NoError(t, err)
	agent := uuid.New()
	require.NoError(t, inc.AssignAgent(agent))
	require.NoError(t, inc.AddComment("investigating", "ops"))
	require.NoError(t, inc.AddComment("cleaned /var/log", "ops"))
	require.NoError(t, inc.SetPriority(incident.PriorityHigh))
	require.NoError(t, inc.Acknowledge())
	require.NoError(t, inc.UpdateStatus(incident.StatusResolved))
	require.NoError(t, inc.Close())
	return inc, inc.Uncommitted()
}

func TestProjectorBuildsReadModel(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	inc, events := history(t)

	for _, e := range events {
		require.NoError(t, p.Apply(ctx, e))
	}

	rm, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Disk full", rm.Name)
	assert.Equal(t, inc.AssignedAgentID, rm.AssignedAgentID)
	assert.Equal(t, incident.PriorityHigh, rm.Priority)
	assert.Equal(t, incident.StatusClosed, rm.Status)
	require.NotNil(t, rm.LastComment)
	assert.Equal(t, "cleaned /var/log", *rm.LastComment)
	assert.Equal(t, int64(len(events)), rm.LastSequence)
	assert.Equal(t, inc.ToReadModel(), rm)
}

func TestProjectorCreatedTwiceYieldsOneRow(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	_, events := history(t)

	require.NoError(t, p.Apply(ctx, events[0]))
	require.NoError(t, p.Apply(ctx, events[0]))

	assert.Equal(t, 1, store.Len())
}

func TestProjectorIgnoresRedeliveredEvents(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	inc, events := history(t)

	for _, e := range events[:3] {
		require.NoError(t, p.Apply(ctx, e))
	}
	before, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)

	for _, e := range events[:3] {
		require.NoError(t, p.Apply(ctx, e))
	}
	after, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProjectorRejectsEventsBeforeCreate(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	_, events := history(t)

	err := p.Apply(ctx, events[1])
	assert.ErrorIs(t, err, incident_errors.ErrOutOfOrder)
	assert.Equal(t, 0, store.Len())
}

func TestProjectorRejectsGapsUntilMissingEventArrives(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	inc, events := history(t)

	require.NoError(t, p.Apply(ctx, events[0]))
	err := p.Apply(ctx, events[2])
	assert.ErrorIs(t, err, incident_errors.ErrOutOfOrder)

	require.NoError(t, p.Apply(ctx, events[1]))
	require.NoError(t, p.Apply(ctx, events[2]))

	rm, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rm.LastSequence)
	require.NotNil(t, rm.LastComment)
	assert.Equal(t, "investigating", *rm.LastComment)
}

func TestProjectorAcknowledgedOnlyAdvancesSequence(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	inc, err := incident.Create(uuid.New(), "Disk full", "/var is full")
	require.NoError(t, err)
	require.NoError(t, inc.Acknowledge())
	events := inc.Uncommitted()

	require.NoError(t, p.Apply(ctx, events[0]))
	before, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.NoError(t, p.Apply(ctx, events[1]))
	after, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2), after.LastSequence)
	after.LastSequence, after.UpdatedAt = before.LastSequence, before.UpdatedAt
	assert.Equal(t, before, after)
}

func TestProjectorUnknownPayloadFailsLoudly(t *testing.T) {
	p, _ := newProjector()
	err := p.Apply(context.Background(), incident.Event{AggregateID: uuid.New(), Sequence: 2})
	assert.ErrorIs(t, err, incident_errors.ErrUnknownEvent)
}

func TestProjectorRebuildReplacesRow(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	inc, events := history(t)
	require.NoError(t, p.Apply(ctx, events[0]))

	folded, err := incident.Fold(inc.ID, events)
	require.NoError(t, err)
	rm, err := p.Rebuild(ctx, folded)
	require.NoError(t, err)

	assert.Equal(t, incident.StatusClosed, rm.Status)
	assert.Equal(t, int64(len(events)), rm.LastSequence)

	require.NoError(t, p.Apply(ctx, events[len(events)-1]))
	again, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, rm, again)
}
