package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/repository"
	"incident-ledger/pkg/logger"

	"go.uber.org/zap"
)

// Cache key pattern:
// - incident:{id}:read_model - short TTL, dropped on every write

// cachedReadModel is the cached form of a read row.
type cachedReadModel struct {
	ID              uuid.UUID         `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	AssignedAgentID *uuid.UUID        `json:"assigned_agent_id,omitempty"`
	Priority        incident.Priority `json:"priority"`
	Status          incident.Status   `json:"status"`
	LastComment     *string           `json:"last_comment,omitempty"`
	LastSequence    int64             `json:"last_sequence"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CachedReadModelStore serves read-model lookups from Redis and falls back to
// the wrapped store. Cache failures never fail a request.
type CachedReadModelStore struct {
	next   repository.ReadModelStore
	client *goredis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewCachedReadModelStore(next repository.ReadModelStore, client *goredis.Client, ttl time.Duration, log *logger.Logger) *CachedReadModelStore {
	return &CachedReadModelStore{next: next, client: client, ttl: ttl, log: log.Named("read_model_cache")}
}

func readModelKey(id uuid.UUID) string {
	return fmt.Sprintf("incident:%s:read_model", id.String())
}

func (c *CachedReadModelStore) Get(ctx context.Context, id uuid.UUID) (incident.ReadModel, error) {
	data, err := c.client.Get(ctx, readModelKey(id)).Bytes()
	if err == nil {
		var cached cachedReadModel
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return cached.toReadModel(), nil
		}
	} else if !errors.Is(err, goredis.Nil) {
		c.log.Warn(ctx, "Read model cache get failed", zap.Error(err))
	}

	rm, err := c.next.Get(ctx, id)
	if err != nil {
		return incident.ReadModel{}, err
	}
	if payload, jsonErr := json.Marshal(fromReadModel(rm)); jsonErr == nil {
		if setErr := c.client.Set(ctx, readModelKey(id), payload, c.ttl).Err(); setErr != nil {
			c.log.Warn(ctx, "Read model cache set failed", zap.Error(setErr))
		}
	}
	return rm, nil
}

func (c *CachedReadModelStore) Insert(ctx context.Context, rm incident.ReadModel) (bool, error) {
	defer c.invalidate(ctx, rm.ID)
	return c.next.Insert(ctx, rm)
}

func (c *CachedReadModelStore) Update(ctx context.Context, rm incident.ReadModel, expectedSequence int64) error {
	defer c.invalidate(ctx, rm.ID)
	return c.next.Update(ctx, rm, expectedSequence)
}

func (c *CachedReadModelStore) Replace(ctx context.Context, rm incident.ReadModel) error {
	defer c.invalidate(ctx, rm.ID)
	return c.next.Replace(ctx, rm)
}

// Direct returns a view that reads the wrapped store and still drops the
// cached row on every write. The projector's sequence checks go through it.
func (c *CachedReadModelStore) Direct() repository.ReadModelStore {
	return directReadModelStore{c}
}

type directReadModelStore struct {
	*CachedReadModelStore
}

func (d directReadModelStore) Get(ctx context.Context, id uuid.UUID) (incident.ReadModel, error) {
	return d.next.Get(ctx, id)
}

func (c *CachedReadModelStore) invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, readModelKey(id)).Err(); err != nil {
		c.log.Warn(ctx, "Read model cache invalidate failed", zap.Error(err), zap.String("incident_id", id.String()))
	}
}

func fromReadModel(rm incident.ReadModel) cachedReadModel {
	out := cachedReadModel{
		ID:           rm.ID,
		Name:         rm.Name,
		Description:  rm.Description,
		Priority:     rm.Priority,
		Status:       rm.Status,
		LastComment:  rm.LastComment,
		LastSequence: rm.LastSequence,
		UpdatedAt:    rm.UpdatedAt,
	}
	if rm.AssignedAgentID.Valid {
		agent := rm.AssignedAgentID.UUID
		out.AssignedAgentID = &agent
	}
	return out
}

func (c cachedReadModel) toReadModel() incident.ReadModel {
	rm := incident.ReadModel{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Priority:     c.Priority,
		Status:       c.Status,
		LastComment:  c.LastComment,
		LastSequence: c.LastSequence,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.AssignedAgentID != nil {
		rm.AssignedAgentID = uuid.NullUUID{UUID: *c.AssignedAgentID, Valid: true}
	}
	return rm
}
