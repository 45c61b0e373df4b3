package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/repository"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

type fakeObjectStore struct {
	objects map[string][]byte
	err     error
}

func (f *fakeObjectStore) PutJSON(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.objects[key] = body
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://example.test/" + key, nil
}

func closedIncident(t *testing.T, log repository.EventLog) []incident.Event {
	t.Helper()
	inc, err := incident.Create(uuid.New(), "Disk full", "/var is full")
	require.NoError(t, err)
	require.NoError(t, inc.AddComment("cleaned /var/log", "ops"))
	require.NoError(t, inc.UpdateStatus(incident.StatusResolved))
	require.NoError(t, inc.Close())
	events := inc.Uncommitted()
	_, err = log.Append(context.Background(), inc.ID, 0, events)
	require.NoError(t, err)
	return events
}

func TestArchiverUploadsClosedIncident(t *testing.T) {
	log := repository.NewMemoryEventLog()
	store := &fakeObjectStore{objects: map[string][]byte{}}
	a := NewArchiver(log, store, logger.NewNop())
	a.clock = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	events := closedIncident(t, log)
	id := events[0].AggregateID

	for _, e := range events[:3] {
		require.NoError(t, a.Apply(context.Background(), e))
	}
	assert.Empty(t, store.objects)

	require.NoError(t, a.Apply(context.Background(), events[3]))
	body, ok := store.objects["incidents/"+id.String()+"/events.json"]
	require.True(t, ok)

	var doc Archive
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, id, doc.IncidentID)
	assert.Equal(t, int64(4), doc.Version)
	require.Len(t, doc.Events, 4)
	last, err := doc.Events[3].Event()
	require.NoError(t, err)
	assert.Equal(t, incident.Closed{}, last.Payload)

	url, err := a.DownloadURL(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, url, ArchiveKey(id))
}

func TestArchiverUploadFailureIsRetryable(t *testing.T) {
	log := repository.NewMemoryEventLog()
	store := &fakeObjectStore{objects: map[string][]byte{}, err: errors.New("503 slow down")}
	a := NewArchiver(log, store, logger.NewNop())

	events := closedIncident(t, log)
	err := a.Apply(context.Background(), events[len(events)-1])
	assert.ErrorIs(t, err, incident_errors.ErrPersistence)
	assert.True(t, incident_errors.Retryable(err))
}
