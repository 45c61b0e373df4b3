package projection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/metrics"
	"incident-ledger/internal/repository"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

// Projector folds events into the incident read model. Apply is idempotent
// and safe under at-least-once delivery.
type Projector struct {
	store   repository.ReadModelStore
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewProjector(store repository.ReadModelStore, log *logger.Logger, m *metrics.Metrics) *Projector {
	return &Projector{store: store, log: log.Named("projector"), metrics: m}
}

func (p *Projector) Apply(ctx context.Context, e incident.Event) error {
	err := p.apply(ctx, e)
	kind := string(e.Kind())
	switch {
	case err == nil:
		p.metrics.IncProjected(kind, metrics.OutcomeApplied)
	case errors.Is(err, errDuplicate):
		p.metrics.IncProjected(kind, metrics.OutcomeDuplicate)
		p.log.Debug(ctx, "Skipping duplicate event",
			zap.String("incident_id", e.AggregateID.String()),
			zap.Int64("sequence", e.Sequence),
		)
		return nil
	case errors.Is(err, incident_errors.ErrOutOfOrder):
		p.metrics.IncProjected(kind, metrics.OutcomeOutOfOrder)
	default:
		p.metrics.IncProjected(kind, metrics.OutcomeFailed)
	}
	return err
}

var errDuplicate = errors.New("duplicate delivery")

func (p *Projector) apply(ctx context.Context, e incident.Event) error {
	switch payload := e.Payload.(type) {
	case incident.Created:
		return p.insert(ctx, e, payload)
	case incident.AgentAssigned:
		return p.update(ctx, e, func(rm *incident.ReadModel) {
			rm.AssignedAgentID.UUID = payload.AgentID
			rm.AssignedAgentID.Valid = true
		})
	case incident.PrioritySet:
		return p.update(ctx, e, func(rm *incident.ReadModel) {
			rm.Priority = payload.Priority
		})
	case incident.CommentAdded:
		return p.update(ctx, e, func(rm *incident.ReadModel) {
			text := payload.Text
			rm.LastComment = &text
		})
	case incident.StatusUpdated:
		return p.update(ctx, e, func(rm *incident.ReadModel) {
			rm.Status = payload.Status
		})
	case incident.Acknowledged:
		// The read row has no acknowledged column; only the sequence moves.
		return p.update(ctx, e, func(*incident.ReadModel) {})
	case incident.Closed:
		return p.update(ctx, e, func(rm *incident.ReadModel) {
			rm.Status = incident.StatusClosed
		})
	default:
		return fmt.Errorf("%w: %T at %s#%d", incident_errors.ErrUnknownEvent, e.Payload, e.AggregateID, e.Sequence)
	}
}

func (p *Projector) insert(ctx context.Context, e incident.Event, c incident.Created) error {
	if e.Sequence != 1 {
		return fmt.Errorf("%w: %s at sequence %d", incident_errors.ErrOutOfOrder, incident.KindCreated, e.Sequence)
	}
	inserted, err := p.store.Insert(ctx, incident.NewReadModel(e, c))
	if err != nil {
		return err
	}
	if !inserted {
		return errDuplicate
	}
	return nil
}

func (p *Projector) update(ctx context.Context, e incident.Event, mutate func(*incident.ReadModel)) error {
	row, err := p.store.Get(ctx, e.AggregateID)
	if errors.Is(err, incident_errors.ErrNotFound) {
		return fmt.Errorf("%w: %s#%d arrived before %s", incident_errors.ErrOutOfOrder, e.AggregateID, e.Sequence, incident.KindCreated)
	}
	if err != nil {
		return err
	}

	switch {
	case e.Sequence <= row.LastSequence:
		return errDuplicate
	case e.Sequence > row.LastSequence+1:
		return fmt.Errorf("%w: %s#%d but read model is at %d", incident_errors.ErrOutOfOrder, e.AggregateID, e.Sequence, row.LastSequence)
	}

	next := row
	mutate(&next)
	next.LastSequence = e.Sequence
	next.UpdatedAt = e.OccurredAt
	return p.store.Update(ctx, next, row.LastSequence)
}

// Rebuild replaces the read row with one folded from the full history.
func (p *Projector) Rebuild(ctx context.Context, inc *incident.Incident) (incident.ReadModel, error) {
	rm := inc.ToReadModel()
	if err := p.store.Replace(ctx, rm); err != nil {
		return incident.ReadModel{}, err
	}
	p.log.Info(ctx, "Read model rebuilt",
		zap.String("incident_id", inc.ID.String()),
		zap.Int64("last_sequence", rm.LastSequence),
	)
	return p.store.Get(ctx, inc.ID)
}
