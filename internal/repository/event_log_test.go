package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/incident"
	incident_errors "incident-ledger/pkg/errors"
)

// newStream creates an incident with extra events and returns its full,
// still uncommitted history.
func newStream(t *testing.T) (uuid.UUID, []incident.Event) {
	t.Helper()
	inc, err := incident.Create(uuid.New(), "Disk full", "/var is full")
	require.NoError(t, err)
	require.NoError(t, inc.AddComment("investigating", "ops"))
	require.NoError(t, inc.SetPriority(incident.PriorityHigh))
	return inc.ID, inc.Uncommitted()
}

func testEventLogContract(t *testing.T, log EventLog) {
	ctx := context.Background()

	t.Run("load unknown is empty", func(t *testing.T) {
		events, err := log.Load(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("append then load round trips", func(t *testing.T) {
		id, events := newStream(t)
		version, err := log.Append(ctx, id, 0, events)
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		loaded, err := log.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		for i := range events {
			assert.Equal(t, events[i].Sequence, loaded[i].Sequence)
			assert.Equal(t, events[i].Payload, loaded[i].Payload)
			assert.True(t, events[i].OccurredAt.Equal(loaded[i].OccurredAt))
		}

		inc, err := incident.Fold(id, loaded)
		require.NoError(t, err)
		assert.Equal(t, incident.PriorityHigh, inc.Priority)
		assert.Equal(t, []string{"investigating"}, inc.Comments)
	})

	t.Run("empty append checks the expected version", func(t *testing.T) {
		id, events := newStream(t)
		version, err := log.Append(ctx, id, 0, nil)
		require.NoError(t, err)
		assert.Zero(t, version)

		_, err = log.Append(ctx, id, 0, events)
		require.NoError(t, err)

		version, err = log.Append(ctx, id, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		_, err = log.Append(ctx, id, 1, nil)
		assert.ErrorIs(t, err, incident_errors.ErrVersionConflict)
	})

	t.Run("stale expected version conflicts without writing", func(t *testing.T) {
		id, events := newStream(t)
		_, err := log.Append(ctx, id, 0, events[:1])
		require.NoError(t, err)
		_, err = log.Append(ctx, id, 1, events[1:2])
		require.NoError(t, err)

		_, err = log.Append(ctx, id, 1, events[1:2])
		assert.ErrorIs(t, err, incident_errors.ErrVersionConflict)

		_, err = log.Append(ctx, id, 0, events[:1])
		assert.ErrorIs(t, err, incident_errors.ErrVersionConflict)

		loaded, err := log.Load(ctx, id)
		require.NoError(t, err)
		assert.Len(t, loaded, 2)
	})

	t.Run("non contiguous batch is rejected", func(t *testing.T) {
		id, events := newStream(t)
		_, err := log.Append(ctx, id, 0, []incident.Event{events[0], events[2]})
		assert.ErrorIs(t, err, incident_errors.ErrInvalidInput)

		loaded, err := log.Load(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("concurrent appends at the same version admit one writer", func(t *testing.T) {
		id, events := newStream(t)
		_, err := log.Append(ctx, id, 0, events[:1])
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := log.Append(ctx, id, 1, events[1:2])
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, incident_errors.ErrVersionConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)
		loaded, err := log.Load(ctx, id)
		require.NoError(t, err)
		assert.Len(t, loaded, 2)
	})
}

func TestMemoryEventLog(t *testing.T) {
	testEventLogContract(t, NewMemoryEventLog())
}

func TestMemoryEventLogReturnsCopies(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog()
	id, events := newStream(t)
	_, err := log.Append(ctx, id, 0, events)
	require.NoError(t, err)

	loaded, err := log.Load(ctx, id)
	require.NoError(t, err)
	loaded[0].Sequence = 99

	again, err := log.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again[0].Sequence)
}

func TestMemoryEventLogHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log := NewMemoryEventLog()
	id, events := newStream(t)

	_, err := log.Append(ctx, id, 0, events)
	assert.ErrorIs(t, err, context.Canceled)

	loaded, err := log.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestBuildValueRows(t *testing.T) {
	assert.Equal(t, "($1,$2),($3,$4),($5,$6)", buildValueRows(3, 2))
	assert.Equal(t, "", buildValueRows(0, 2))
}
