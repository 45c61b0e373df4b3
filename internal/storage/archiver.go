package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/domain/outbox"
	"incident-ledger/internal/repository"
	"incident-ledger/pkg/clock"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

// ObjectStore is the slice of the S3 client the archiver needs.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, body []byte) error
	PresignGet(ctx context.Context, key string) (string, error)
}

// Archive is the document written for a closed incident.
type Archive struct {
	IncidentID uuid.UUID         `json:"incident_id"`
	Version    int64             `json:"version"`
	ArchivedAt time.Time         `json:"archived_at"`
	Events     []outbox.Envelope `json:"events"`
}

func ArchiveKey(incidentID uuid.UUID) string {
	return fmt.Sprintf("incidents/%s/events.json", incidentID)
}

// Archiver exports the full event stream of an incident once it is closed.
// Re-delivery rewrites the same object.
type Archiver struct {
	events repository.EventLog
	store  ObjectStore
	log    *logger.Logger
	clock  func() time.Time
}

func NewArchiver(events repository.EventLog, store ObjectStore, log *logger.Logger) *Archiver {
	return &Archiver{events: events, store: store, log: log.Named("archiver"), clock: clock.NowUTC}
}

func (a *Archiver) Apply(ctx context.Context, e incident.Event) error {
	if _, closed := e.Payload.(incident.Closed); !closed {
		return nil
	}

	events, err := a.events.Load(ctx, e.AggregateID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: incident %s", incident_errors.ErrNotFound, e.AggregateID)
	}

	doc := Archive{
		IncidentID: e.AggregateID,
		Version:    events[len(events)-1].Sequence,
		ArchivedAt: a.clock(),
		Events:     make([]outbox.Envelope, 0, len(events)),
	}
	for _, ev := range events {
		env, err := outbox.NewEnvelope(ev)
		if err != nil {
			return err
		}
		doc.Events = append(doc.Events, env)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	key := ArchiveKey(e.AggregateID)
	if err := a.store.PutJSON(ctx, key, body); err != nil {
		return fmt.Errorf("%w: archive upload: %w", incident_errors.ErrPersistence, err)
	}
	a.log.Info(ctx, "Incident archived", zap.String("key", key), zap.Int64("version", doc.Version))
	return nil
}

// DownloadURL presigns the archive object of a closed incident.
func (a *Archiver) DownloadURL(ctx context.Context, incidentID uuid.UUID) (string, error) {
	return a.store.PresignGet(ctx, ArchiveKey(incidentID))
}
