package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "idempotency"

// IdempotencyStore remembers the result of a keyed request for a TTL.
type IdempotencyStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

func (s *IdempotencyStore) key(scope, id string) string {
	return fmt.Sprintf("%s:%s:%s", idempotencyPrefix, scope, id)
}

// Reserve stores value under (scope, id) unless a value is already there, in
// which case the existing value is returned with reserved=false.
func (s *IdempotencyStore) Reserve(ctx context.Context, scope, id, value string) (string, bool, error) {
	key := s.key(scope, id)
	ok, err := s.client.SetNX(ctx, key, value, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return value, true, nil
	}
	existing, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, key, value, s.ttl).Result()
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, fmt.Errorf("idempotency key %s is contended", key)
		}
		return value, true, nil
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Release forgets a reservation whose request failed.
func (s *IdempotencyStore) Release(ctx context.Context, scope, id string) error {
	return s.client.Del(ctx, s.key(scope, id)).Err()
}
