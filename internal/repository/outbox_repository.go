package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/outbox"
)

type outboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, tx DBTX, event *outbox.OutboxEvent) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO outbox_events (id, incident_id, sequence, kind, schema_version, payload, occurred_at, status, retry_count, error, created_at, updated_at, processed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    `,
		event.ID,
		event.IncidentID,
		event.Sequence,
		event.Kind,
		event.SchemaVersion,
		event.Payload,
		event.OccurredAt,
		event.Status,
		event.RetryCount,
		event.Error,
		event.CreatedAt,
		event.UpdatedAt,
		event.ProcessedAt,
	)
	return err
}

func (r *outboxRepository) GetPending(ctx context.Context, limit, maxRetries int, staleBefore time.Time) ([]outbox.OutboxEvent, error) {
	var events []outbox.OutboxEvent
	rows, err := r.db.QueryContext(ctx, `
        SELECT o.id, o.incident_id, o.sequence, o.kind, o.schema_version, o.payload, o.occurred_at, o.status, o.retry_count, o.error, o.created_at, o.updated_at, o.processed_at
        FROM outbox_events o
        WHERE o.retry_count < $2
          AND (o.status = $1 OR (o.status = $4 AND o.updated_at < $5))
          AND NOT EXISTS (
              SELECT 1 FROM outbox_events p
              WHERE p.incident_id = o.incident_id
                AND p.sequence < o.sequence
                AND p.status = $4
                AND p.updated_at >= $5
          )
        ORDER BY o.created_at ASC, o.incident_id, o.sequence ASC
        LIMIT $3
    `, outbox.StatusPending, maxRetries, limit, outbox.StatusProcessing, staleBefore)
	if err != nil {
		return nil, persistenceError("get pending outbox", err)
	}
	defer rows.Close()

	for rows.Next() {
		var event outbox.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.IncidentID,
			&event.Sequence,
			&event.Kind,
			&event.SchemaVersion,
			&event.Payload,
			&event.OccurredAt,
			&event.Status,
			&event.RetryCount,
			&event.Error,
			&event.CreatedAt,
			&event.UpdatedAt,
			&event.ProcessedAt,
		); err != nil {
			return nil, persistenceError("scan outbox", err)
		}
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("get pending outbox", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, updated_at = $2
        WHERE id = $3
    `, outbox.StatusProcessing, time.Now(), id)
	return persistenceError("mark outbox processing", err)
}

func (r *outboxRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, processed_at = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusCompleted, &now, now, id)
	return persistenceError("mark outbox completed", err)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, error = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusFailed, errorMsg, time.Now(), id)
	return persistenceError("mark outbox failed", err)
}

// IncrementRetry puts the row back to PENDING with one more attempt recorded.
func (r *outboxRepository) IncrementRetry(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET retry_count = retry_count + 1, status = $1, error = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusPending, errorMsg, time.Now(), id)
	return persistenceError("increment outbox retry", err)
}
