package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	incident_errors "incident-ledger/pkg/errors"
)

type MemoryReadModelStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]incident.ReadModel
}

func NewMemoryReadModelStore() *MemoryReadModelStore {
	return &MemoryReadModelStore{rows: make(map[uuid.UUID]incident.ReadModel)}
}

func (s *MemoryReadModelStore) Get(ctx context.Context, id uuid.UUID) (incident.ReadModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rows[id]
	if !ok {
		return incident.ReadModel{}, fmt.Errorf("%w: incident %s", incident_errors.ErrNotFound, id)
	}
	return cloneRow(rm), nil
}

func (s *MemoryReadModelStore) Insert(ctx context.Context, rm incident.ReadModel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rm.ID]; ok {
		return false, nil
	}
	s.rows[rm.ID] = cloneRow(rm)
	return true, nil
}

func (s *MemoryReadModelStore) Update(ctx context.Context, rm incident.ReadModel, expectedSequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[rm.ID]
	if !ok || current.LastSequence != expectedSequence {
		return fmt.Errorf("%w: read model %s moved past sequence %d", incident_errors.ErrVersionConflict, rm.ID, expectedSequence)
	}
	s.rows[rm.ID] = cloneRow(rm)
	return nil
}

func (s *MemoryReadModelStore) Replace(ctx context.Context, rm incident.ReadModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rows[rm.ID]; ok && current.LastSequence > rm.LastSequence {
		return nil
	}
	s.rows[rm.ID] = cloneRow(rm)
	return nil
}

// Len reports how many rows are stored.
func (s *MemoryReadModelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func cloneRow(rm incident.ReadModel) incident.ReadModel {
	if rm.LastComment != nil {
		c := *rm.LastComment
		rm.LastComment = &c
	}
	return rm
}
