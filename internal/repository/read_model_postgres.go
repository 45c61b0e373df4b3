package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	incident_errors "incident-ledger/pkg/errors"
)

type postgresReadModelStore struct {
	db DBTX
}

func NewPostgresReadModelStore(db DBTX) ReadModelStore {
	return &postgresReadModelStore{db: db}
}

func (s *postgresReadModelStore) Get(ctx context.Context, id uuid.UUID) (incident.ReadModel, error) {
	var (
		rm          incident.ReadModel
		priority    string
		status      string
		lastComment sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT id, name, description, assigned_agent_id, priority, status, last_comment, last_sequence, updated_at
        FROM incident_read_model
        WHERE id = $1
    `, id).Scan(
		&rm.ID,
		&rm.Name,
		&rm.Description,
		&rm.AssignedAgentID,
		&priority,
		&status,
		&lastComment,
		&rm.LastSequence,
		&rm.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return incident.ReadModel{}, fmt.Errorf("%w: incident %s", incident_errors.ErrNotFound, id)
	}
	if err != nil {
		return incident.ReadModel{}, persistenceError("get read model", err)
	}

	if rm.Priority, err = incident.ParsePriority(priority); err != nil {
		return incident.ReadModel{}, err
	}
	if rm.Status, err = incident.ParseStatus(status); err != nil {
		return incident.ReadModel{}, err
	}
	if lastComment.Valid {
		rm.LastComment = &lastComment.String
	}
	rm.UpdatedAt = rm.UpdatedAt.UTC()
	return rm, nil
}

func (s *postgresReadModelStore) Insert(ctx context.Context, rm incident.ReadModel) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO incident_read_model (id, name, description, assigned_agent_id, priority, status, last_comment, last_sequence, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO NOTHING
    `, rowArgs(rm)...)
	if err != nil {
		return false, persistenceError("insert read model", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, persistenceError("insert read model", err)
	}
	return affected == 1, nil
}

func (s *postgresReadModelStore) Update(ctx context.Context, rm incident.ReadModel, expectedSequence int64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE incident_read_model
        SET name = $2, description = $3, assigned_agent_id = $4, priority = $5, status = $6,
            last_comment = $7, last_sequence = $8, updated_at = $9
        WHERE id = $1 AND last_sequence = $10
    `, append(rowArgs(rm), expectedSequence)...)
	if err != nil {
		return persistenceError("update read model", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistenceError("update read model", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: read model %s moved past sequence %d", incident_errors.ErrVersionConflict, rm.ID, expectedSequence)
	}
	return nil
}

func (s *postgresReadModelStore) Replace(ctx context.Context, rm incident.ReadModel) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO incident_read_model (id, name, description, assigned_agent_id, priority, status, last_comment, last_sequence, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name,
            description = EXCLUDED.description,
            assigned_agent_id = EXCLUDED.assigned_agent_id,
            priority = EXCLUDED.priority,
            status = EXCLUDED.status,
            last_comment = EXCLUDED.last_comment,
            last_sequence = EXCLUDED.last_sequence,
            updated_at = EXCLUDED.updated_at
        WHERE incident_read_model.last_sequence <= EXCLUDED.last_sequence
    `, rowArgs(rm)...)
	return persistenceError("replace read model", err)
}

func rowArgs(rm incident.ReadModel) []interface{} {
	return []interface{}{
		rm.ID,
		rm.Name,
		rm.Description,
		rm.AssignedAgentID,
		rm.Priority.String(),
		rm.Status.String(),
		rm.LastComment,
		rm.LastSequence,
		rm.UpdatedAt,
	}
}
