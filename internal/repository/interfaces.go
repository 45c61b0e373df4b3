package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/domain/outbox"
)

// EventLog is the append-only, per-incident ordered store of events.
type EventLog interface {
	// Append persists events as the next contiguous range after
	// expectedVersion and returns the new stream version. A stale
	// expectedVersion fails with ErrVersionConflict and writes nothing. An
	// empty batch only checks expectedVersion against the stream.
	Append(ctx context.Context, incidentID uuid.UUID, expectedVersion int64, events []incident.Event) (int64, error)
	// Load returns the full stream in sequence order, or an empty slice for
	// an unknown incident.
	Load(ctx context.Context, incidentID uuid.UUID) ([]incident.Event, error)
}

// ReadModelStore persists projected incident rows.
type ReadModelStore interface {
	Get(ctx context.Context, id uuid.UUID) (incident.ReadModel, error)
	// Insert creates the row and reports false when it already exists.
	Insert(ctx context.Context, rm incident.ReadModel) (bool, error)
	// Update overwrites the row only if its last_sequence still equals
	// expectedSequence, otherwise ErrVersionConflict.
	Update(ctx context.Context, rm incident.ReadModel, expectedSequence int64) error
	// Replace upserts a rebuilt row unless the stored one is already further along.
	Replace(ctx context.Context, rm incident.ReadModel) error
}

type OutboxRepository interface {
	Create(ctx context.Context, tx DBTX, event *outbox.OutboxEvent) error
	// GetPending returns PENDING rows and PROCESSING rows claimed before
	// staleBefore, in stream order. Rows queued behind a live claim on the
	// same incident are held back.
	GetPending(ctx context.Context, limit, maxRetries int, staleBefore time.Time) ([]outbox.OutboxEvent, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	IncrementRetry(ctx context.Context, id uuid.UUID, errorMsg string) error
}
