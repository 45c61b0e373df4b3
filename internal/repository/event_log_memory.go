package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	incident_errors "incident-ledger/pkg/errors"
)

// MemoryEventLog keeps streams in process memory. Used by tests and the
// memory store driver.
type MemoryEventLog struct {
	mu      sync.RWMutex
	streams map[uuid.UUID][]incident.Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{streams: make(map[uuid.UUID][]incident.Event)}
}

func (l *MemoryEventLog) Append(ctx context.Context, incidentID uuid.UUID, expectedVersion int64, events []incident.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		l.mu.RLock()
		defer l.mu.RUnlock()
		if current := int64(len(l.streams[incidentID])); current != expectedVersion {
			return 0, fmt.Errorf("%w: incident %s at version %d, expected %d",
				incident_errors.ErrVersionConflict, incidentID, current, expectedVersion)
		}
		return expectedVersion, nil
	}
	if err := checkContiguous(incidentID, expectedVersion, events); err != nil {
		return 0, err
	}
	for _, e := range events {
		if _, _, _, err := incident.Encode(e.Payload); err != nil {
			return 0, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[incidentID]
	if current := int64(len(stream)); current != expectedVersion {
		return 0, fmt.Errorf("%w: incident %s at version %d, expected %d",
			incident_errors.ErrVersionConflict, incidentID, current, expectedVersion)
	}
	next := make([]incident.Event, len(stream), len(stream)+len(events))
	copy(next, stream)
	l.streams[incidentID] = append(next, events...)
	return int64(len(next) + len(events)), nil
}

func (l *MemoryEventLog) Load(ctx context.Context, incidentID uuid.UUID) ([]incident.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[incidentID]
	out := make([]incident.Event, len(stream))
	copy(out, stream)
	return out, nil
}
