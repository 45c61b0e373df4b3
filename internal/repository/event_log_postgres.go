package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/domain/outbox"
	"incident-ledger/pkg/clock"
	incident_errors "incident-ledger/pkg/errors"
)

const eventColumns = 6

type postgresEventLog struct {
	db     DBTX
	outbox OutboxRepository
	clock  func() time.Time
}

// NewPostgresEventLog returns an event log that also writes one outbox row per
// event inside the append transaction. outboxRepo may be nil when nothing
// consumes the outbox.
func NewPostgresEventLog(db DBTX, outboxRepo OutboxRepository) EventLog {
	return &postgresEventLog{db: db, outbox: outboxRepo, clock: clock.NowUTC}
}

func (l *postgresEventLog) Append(ctx context.Context, incidentID uuid.UUID, expectedVersion int64, events []incident.Event) (int64, error) {
	if len(events) == 0 {
		return l.checkVersion(ctx, incidentID, expectedVersion)
	}
	if err := checkContiguous(incidentID, expectedVersion, events); err != nil {
		return 0, err
	}

	now := l.clock()
	args := make([]interface{}, 0, len(events)*eventColumns)
	rows := make([]outbox.OutboxEvent, 0, len(events))
	for _, e := range events {
		kind, version, payload, err := incident.Encode(e.Payload)
		if err != nil {
			return 0, err
		}
		args = append(args, incidentID, e.Sequence, string(kind), version, e.OccurredAt, payload)
		rows = append(rows, outbox.NewOutboxEvent(e, kind, version, payload, now))
	}
	newVersion := expectedVersion + int64(len(events))

	err := WithTx(ctx, l.db, func(tx DBTX) error {
		if err := advanceStream(ctx, tx, incidentID, expectedVersion, newVersion, now); err != nil {
			return err
		}
		query := `INSERT INTO incident_events (incident_id, sequence, kind, schema_version, occurred_at, payload)
        VALUES ` + buildValueRows(len(events), eventColumns)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		if l.outbox == nil {
			return nil
		}
		for i := range rows {
			if err := l.outbox.Create(ctx, tx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return newVersion, nil
	case errors.Is(err, incident_errors.ErrVersionConflict):
		return 0, err
	case isUniqueViolation(err):
		return 0, fmt.Errorf("%w: incident %s moved past version %d", incident_errors.ErrVersionConflict, incidentID, expectedVersion)
	default:
		return 0, persistenceError("append events", err)
	}
}

// checkVersion confirms the stream is still at expected without writing.
func (l *postgresEventLog) checkVersion(ctx context.Context, incidentID uuid.UUID, expected int64) (int64, error) {
	var current int64
	err := l.db.QueryRowContext(ctx, `SELECT version FROM incident_streams WHERE incident_id = $1`, incidentID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, persistenceError("read stream version", err)
	}
	if current != expected {
		return 0, fmt.Errorf("%w: incident %s at version %d, expected %d",
			incident_errors.ErrVersionConflict, incidentID, current, expected)
	}
	return expected, nil
}

// advanceStream moves the stream version from expected to next, or reports a
// conflict when another writer got there first.
func advanceStream(ctx context.Context, tx DBTX, incidentID uuid.UUID, expected, next int64, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = tx.ExecContext(ctx, `
        INSERT INTO incident_streams (incident_id, version, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (incident_id) DO NOTHING
    `, incidentID, next, now)
	} else {
		res, err = tx.ExecContext(ctx, `
        UPDATE incident_streams
        SET version = $1, updated_at = $2
        WHERE incident_id = $3 AND version = $4
    `, next, now, incidentID, expected)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: incident %s is not at version %d", incident_errors.ErrVersionConflict, incidentID, expected)
	}
	return nil
}

func (l *postgresEventLog) Load(ctx context.Context, incidentID uuid.UUID) ([]incident.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
        SELECT sequence, kind, schema_version, occurred_at, payload
        FROM incident_events
        WHERE incident_id = $1
        ORDER BY sequence ASC
    `, incidentID)
	if err != nil {
		return nil, persistenceError("load events", err)
	}
	defer rows.Close()

	events := []incident.Event{}
	for rows.Next() {
		var (
			e       = incident.Event{AggregateID: incidentID}
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.Sequence, &kind, &e.SchemaVersion, &e.OccurredAt, &payload); err != nil {
			return nil, persistenceError("scan event", err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.Payload, err = incident.Decode(incident.Kind(kind), e.SchemaVersion, payload)
		if err != nil {
			return nil, fmt.Errorf("incident %s sequence %d: %w", incidentID, e.Sequence, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("load events", err)
	}
	return events, nil
}

// checkContiguous rejects batches that do not continue the stream from
// expectedVersion or that belong to another incident.
func checkContiguous(incidentID uuid.UUID, expectedVersion int64, events []incident.Event) error {
	if expectedVersion < 0 {
		return fmt.Errorf("%w: negative expected version", incident_errors.ErrInvalidInput)
	}
	for i, e := range events {
		if e.AggregateID != incidentID {
			return fmt.Errorf("%w: event for %s in stream %s", incident_errors.ErrInvalidInput, e.AggregateID, incidentID)
		}
		if want := expectedVersion + int64(i) + 1; e.Sequence != want {
			return fmt.Errorf("%w: event sequence %d, want %d", incident_errors.ErrInvalidInput, e.Sequence, want)
		}
	}
	return nil
}
