package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"incident-ledger/internal/commands"
	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/metrics"
	"incident-ledger/internal/projection"
	"incident-ledger/internal/repository"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

const createIncidentScope = "create_incident"

// IdempotencyStore remembers which incident a CreateIncident key produced.
type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, id, value string) (string, bool, error)
	Release(ctx context.Context, scope, id string) error
}

type IncidentServiceConfig struct {
	// MaxRetries is how many times a command is re-run after a version conflict.
	MaxRetries  int
	BaseBackoff time.Duration
	// InlineProjection applies events to the read model right after append
	// instead of leaving it to the stream consumer.
	InlineProjection bool
}

func DefaultIncidentServiceConfig() IncidentServiceConfig {
	return IncidentServiceConfig{MaxRetries: 3, BaseBackoff: 10 * time.Millisecond}
}

type IncidentService struct {
	eventLog    repository.EventLog
	readModels  repository.ReadModelStore
	projector   *projection.Projector
	idempotency IdempotencyStore
	bus         *commands.Bus
	cfg         IncidentServiceConfig
	log         *logger.Logger
	metrics     *metrics.Metrics
	newID       func() uuid.UUID
}

func NewIncidentService(
	eventLog repository.EventLog,
	readModels repository.ReadModelStore,
	projector *projection.Projector,
	bus *commands.Bus,
	cfg IncidentServiceConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *IncidentService {
	if bus == nil {
		bus = commands.NewBus(commands.ValidationProxy)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	svc := &IncidentService{
		eventLog:   eventLog,
		readModels: readModels,
		projector:  projector,
		bus:        bus,
		cfg:        cfg,
		log:        log.Named("incident_service"),
		metrics:    m,
		newID:      uuid.New,
	}
	svc.RegisterHandlers()
	return svc
}

// SetIdempotencyStore enables Idempotency-Key handling for CreateIncident.
func (s *IncidentService) SetIdempotencyStore(store IdempotencyStore) {
	s.idempotency = store
}

func (s *IncidentService) Bus() *commands.Bus {
	return s.bus
}

func (s *IncidentService) RegisterHandlers() {
	s.bus.Register(commands.TypeCreateIncident, s.instrument(commands.TypeCreateIncident,
		func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
			typed, ok := cmd.(commands.CreateIncident)
			if !ok {
				return commands.Result{}, incident_errors.ErrInvalidInput
			}
			return s.executeCreate(ctx, typed)
		}))

	for _, commandType := range []string{
		commands.TypeAssignAgent,
		commands.TypeSetPriority,
		commands.TypeAddComment,
		commands.TypeUpdateStatus,
		commands.TypeAcknowledge,
		commands.TypeClose,
	} {
		s.bus.Register(commandType, s.instrument(commandType,
			func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
				typed, ok := cmd.(commands.IncidentCommand)
				if !ok {
					return commands.Result{}, incident_errors.ErrInvalidInput
				}
				return s.executeWithRetry(ctx, typed)
			}))
	}
}

func (s *IncidentService) instrument(commandType string, next commands.HandlerFunc) commands.HandlerFunc {
	return func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		start := time.Now()
		res, err := next(ctx, cmd)
		s.metrics.ObserveCommand(commandType, err, time.Since(start))
		return res, err
	}
}

func (s *IncidentService) CreateIncident(ctx context.Context, name, description, idempotencyKey string) (uuid.UUID, error) {
	res, err := s.bus.Execute(ctx, commands.CreateIncident{Name: name, Description: description, Key: idempotencyKey})
	if err != nil {
		return uuid.Nil, err
	}
	return res.AggregateID, nil
}

func (s *IncidentService) AssignAgent(ctx context.Context, incidentID, agentID uuid.UUID) error {
	_, err := s.bus.Execute(ctx, commands.NewAssignAgent(incidentID, agentID))
	return err
}

func (s *IncidentService) SetPriority(ctx context.Context, incidentID uuid.UUID, p incident.Priority) error {
	_, err := s.bus.Execute(ctx, commands.NewSetPriority(incidentID, p))
	return err
}

func (s *IncidentService) AddComment(ctx context.Context, incidentID uuid.UUID, text, author string) error {
	_, err := s.bus.Execute(ctx, commands.NewAddComment(incidentID, text, author))
	return err
}

func (s *IncidentService) UpdateStatus(ctx context.Context, incidentID uuid.UUID, status incident.Status) error {
	_, err := s.bus.Execute(ctx, commands.NewUpdateStatus(incidentID, status))
	return err
}

func (s *IncidentService) Acknowledge(ctx context.Context, incidentID uuid.UUID) error {
	_, err := s.bus.Execute(ctx, commands.NewAcknowledge(incidentID))
	return err
}

func (s *IncidentService) Close(ctx context.Context, incidentID uuid.UUID) error {
	_, err := s.bus.Execute(ctx, commands.NewClose(incidentID))
	return err
}

// GetReadModel returns the projected row. It may lag the event log.
func (s *IncidentService) GetReadModel(ctx context.Context, incidentID uuid.UUID) (incident.ReadModel, error) {
	return s.readModels.Get(ctx, incidentID)
}

// GetIncident replays the stream into a fresh aggregate.
func (s *IncidentService) GetIncident(ctx context.Context, incidentID uuid.UUID) (*incident.Incident, error) {
	events, err := s.eventLog.Load(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return incident.Fold(incidentID, events)
}

// History returns the raw event stream.
func (s *IncidentService) History(ctx context.Context, incidentID uuid.UUID) ([]incident.Event, error) {
	events, err := s.eventLog.Load(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: incident %s", incident_errors.ErrNotFound, incidentID)
	}
	return events, nil
}

// RebuildReadModel re-derives the read row from the full stream.
func (s *IncidentService) RebuildReadModel(ctx context.Context, incidentID uuid.UUID) (incident.ReadModel, error) {
	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return incident.ReadModel{}, err
	}
	return s.projector.Rebuild(ctx, inc)
}

func (s *IncidentService) executeCreate(ctx context.Context, cmd commands.CreateIncident) (commands.Result, error) {
	id := s.newID()
	key := cmd.IdempotencyKey()
	if key != "" && s.idempotency != nil {
		existing, reserved, err := s.idempotency.Reserve(ctx, createIncidentScope, key, id.String())
		if err != nil {
			return commands.Result{}, fmt.Errorf("%w: idempotency: %w", incident_errors.ErrPersistence, err)
		}
		if !reserved {
			prior, err := uuid.Parse(existing)
			if err != nil {
				return commands.Result{}, fmt.Errorf("%w: idempotency record %q", incident_errors.ErrPersistence, existing)
			}
			s.log.Info(ctx, "Replaying idempotent create", zap.String("incident_id", prior.String()))
			return commands.Result{AggregateID: prior}, nil
		}
	}

	res, err := s.create(ctx, id, cmd)
	if err != nil && key != "" && s.idempotency != nil {
		if relErr := s.idempotency.Release(context.WithoutCancel(ctx), createIncidentScope, key); relErr != nil {
			s.log.Warn(ctx, "Failed to release idempotency key", zap.Error(relErr))
		}
	}
	return res, err
}

func (s *IncidentService) create(ctx context.Context, id uuid.UUID, cmd commands.CreateIncident) (commands.Result, error) {
	inc, err := incident.Create(id, cmd.Name, cmd.Description)
	if err != nil {
		return commands.Result{}, err
	}
	pending := inc.Uncommitted()
	version, err := s.eventLog.Append(ctx, id, inc.Version(), pending)
	if err != nil {
		return commands.Result{}, err
	}
	inc.MarkCommitted()

	ctx = logger.WithIncidentID(ctx, id.String())
	s.log.Info(ctx, "Incident created", zap.Int64("version", version))
	s.project(ctx, pending)
	return commands.Result{AggregateID: id, Version: version, Payload: inc}, nil
}

// executeWithRetry runs load, mutate and append, starting over from a fresh
// load whenever another writer advanced the stream in between.
func (s *IncidentService) executeWithRetry(ctx context.Context, cmd commands.IncidentCommand) (commands.Result, error) {
	ctx = logger.WithIncidentID(ctx, cmd.TargetID().String())
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.IncConflict(cmd.CommandType())
			if err := s.backoff(ctx, attempt); err != nil {
				return commands.Result{}, err
			}
		}

		res, err := s.execute(ctx, cmd)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, incident_errors.ErrVersionConflict) {
			return commands.Result{}, err
		}
		lastErr = err
		s.log.Warn(ctx, "Version conflict, retrying command",
			zap.String("command", cmd.CommandType()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return commands.Result{}, fmt.Errorf("%s gave up after %d attempts: %w", cmd.CommandType(), s.cfg.MaxRetries+1, lastErr)
}

func (s *IncidentService) execute(ctx context.Context, cmd commands.IncidentCommand) (commands.Result, error) {
	id := cmd.TargetID()
	events, err := s.eventLog.Load(ctx, id)
	if err != nil {
		return commands.Result{}, err
	}
	inc, err := incident.Fold(id, events)
	if err != nil {
		return commands.Result{}, err
	}
	if err := cmd.Apply(inc); err != nil {
		return commands.Result{}, err
	}

	pending := inc.Uncommitted()
	version, err := s.eventLog.Append(ctx, id, inc.Version(), pending)
	if err != nil {
		return commands.Result{}, err
	}
	inc.MarkCommitted()

	s.log.Info(ctx, "Incident command applied",
		zap.String("command", cmd.CommandType()),
		zap.Int64("version", version),
	)
	s.project(ctx, pending)
	return commands.Result{AggregateID: id, Version: version, Payload: inc}, nil
}

// project feeds freshly appended events to the read model in inline mode.
// The events are already durable, so failures are logged, not returned.
// When a concurrent command projected ahead of or behind us, the row is
// rebuilt from the log so it never stalls behind a gap.
func (s *IncidentService) project(ctx context.Context, events []incident.Event) {
	if !s.cfg.InlineProjection || s.projector == nil {
		return
	}
	for _, e := range events {
		err := s.projector.Apply(ctx, e)
		if err == nil {
			continue
		}
		if errors.Is(err, incident_errors.ErrOutOfOrder) || errors.Is(err, incident_errors.ErrVersionConflict) {
			s.catchUp(ctx, e)
			return
		}
		s.log.Error(ctx, "Inline projection failed",
			zap.Int64("sequence", e.Sequence),
			zap.String("kind", string(e.Kind())),
			zap.Error(err),
		)
		return
	}
}

func (s *IncidentService) catchUp(ctx context.Context, e incident.Event) {
	rm, err := s.RebuildReadModel(ctx, e.AggregateID)
	if err != nil {
		s.log.Error(ctx, "Inline projection could not catch up",
			zap.Int64("sequence", e.Sequence),
			zap.Error(err),
		)
		return
	}
	s.log.Debug(ctx, "Inline projection caught up from the log",
		zap.Int64("sequence", e.Sequence),
		zap.Int64("last_sequence", rm.LastSequence),
	)
}

// backoff waits base*2^(attempt-1) plus up to base of jitter.
func (s *IncidentService) backoff(ctx context.Context, attempt int) error {
	base := s.cfg.BaseBackoff
	if base <= 0 {
		return ctx.Err()
	}
	wait := base<<(attempt-1) + rand.N(base)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
