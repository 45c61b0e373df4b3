package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/outbox"
	"incident-ledger/pkg/migrate"
)

// openTestDB connects to INCIDENT_TEST_DATABASE_URL and migrates it, or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("INCIDENT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("INCIDENT_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrate.Up(context.Background(), db))
	return db
}

func TestPostgresEventLog(t *testing.T) {
	db := openTestDB(t)
	testEventLogContract(t, NewPostgresEventLog(db, NewOutboxRepository(db)))
}

func TestPostgresReadModelStore(t *testing.T) {
	db := openTestDB(t)
	testReadModelContract(t, NewPostgresReadModelStore(db))
}

func TestPostgresAppendWritesOutboxRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	outboxRepo := NewOutboxRepository(db)
	log := NewPostgresEventLog(db, outboxRepo)

	id, events := newStream(t)
	_, err := log.Append(ctx, id, 0, events)
	require.NoError(t, err)

	pending, err := outboxRepo.GetPending(ctx, 1000, 10, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	var mine []outbox.OutboxEvent
	for _, p := range pending {
		if p.IncidentID == id {
			mine = append(mine, p)
		}
	}
	require.Len(t, mine, len(events))
	for i, row := range mine {
		assert.Equal(t, int64(i+1), row.Sequence)
		got, err := row.Envelope().Event()
		require.NoError(t, err)
		assert.Equal(t, events[i].Payload, got.Payload)
	}

	require.NoError(t, outboxRepo.IncrementRetry(ctx, mine[0].ID, "redis down"))
	require.NoError(t, outboxRepo.MarkCompleted(ctx, mine[1].ID))
	require.NoError(t, outboxRepo.MarkFailed(ctx, mine[2].ID, "gave up"))

	pending, err = outboxRepo.GetPending(ctx, 1000, 10, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	var left []uuid.UUID
	for _, p := range pending {
		if p.IncidentID == id {
			left = append(left, p.ID)
			assert.Equal(t, 1, p.RetryCount)
		}
	}
	assert.Equal(t, []uuid.UUID{mine[0].ID}, left)
}

func TestPostgresOutboxClaimExpires(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	outboxRepo := NewOutboxRepository(db)
	log := NewPostgresEventLog(db, outboxRepo)

	id, events := newStream(t)
	_, err := log.Append(ctx, id, 0, events)
	require.NoError(t, err)

	mineOf := func(staleBefore time.Time) []outbox.OutboxEvent {
		pending, err := outboxRepo.GetPending(ctx, 1000, 10, staleBefore)
		require.NoError(t, err)
		var mine []outbox.OutboxEvent
		for _, p := range pending {
			if p.IncidentID == id {
				mine = append(mine, p)
			}
		}
		return mine
	}

	rows := mineOf(time.Now().Add(-time.Minute))
	require.Len(t, rows, len(events))
	require.NoError(t, outboxRepo.MarkProcessing(ctx, rows[0].ID))

	// A live claim holds back the whole incident.
	assert.Empty(t, mineOf(time.Now().Add(-time.Minute)))

	reclaimed := mineOf(time.Now().Add(time.Minute))
	require.Len(t, reclaimed, len(events))
	assert.Equal(t, rows[0].ID, reclaimed[0].ID)
	assert.Equal(t, outbox.StatusProcessing, reclaimed[0].Status)
}
