package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/domain/outbox"
	"incident-ledger/internal/redis"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

// fakeStream mimics a consumer group for a single consumer: entries move to
// pending when read and leave it when acked.
type fakeStream struct {
	mu      sync.Mutex
	fresh   []redis.StreamMessage
	pending []redis.StreamMessage
	acked   []string
	seq     int
}

func (s *fakeStream) add(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.fresh = append(s.fresh, redis.StreamMessage{ID: fmt.Sprintf("%d-0", s.seq), Payload: payload})
}

func (s *fakeStream) EnsureGroup(context.Context) error { return nil }

func entrySeq(id string) int {
	var n int
	_, _ = fmt.Sscanf(id, "%d-0", &n)
	return n
}

func (s *fakeStream) ReadPending(_ context.Context, after string, count int64) ([]redis.StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []redis.StreamMessage
	for _, m := range s.pending {
		if int64(len(out)) == count {
			break
		}
		if after == "" || entrySeq(m.ID) > entrySeq(after) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStream) ReadNew(_ context.Context, count int64, _ time.Duration) ([]redis.StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(count)
	if n > len(s.fresh) {
		n = len(s.fresh)
	}
	out := append([]redis.StreamMessage(nil), s.fresh[:n]...)
	s.fresh = s.fresh[n:]
	s.pending = append(s.pending, out...)
	return out, nil
}

func (s *fakeStream) Ack(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := map[string]bool{}
	for _, id := range ids {
		done[id] = true
		s.acked = append(s.acked, id)
	}
	kept := s.pending[:0]
	for _, m := range s.pending {
		if !done[m.ID] {
			kept = append(kept, m)
		}
	}
	s.pending = kept
	return nil
}

func envelopeBytes(t *testing.T, e incident.Event) []byte {
	t.Helper()
	env, err := outbox.NewEnvelope(e)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestConsumerRedeliversOutOfOrderEvents(t *testing.T) {
	ctx := context.Background()
	p, store := newProjector()
	inc, events := history(t)
	stream := &fakeStream{}
	c := NewConsumer(stream, p, DefaultConsumerConfig("projector"), logger.NewNop())

	// Second event overtakes the first.
	stream.add(envelopeBytes(t, events[1]))
	stream.add(envelopeBytes(t, events[0]))
	require.NoError(t, c.Poll(ctx))
	assert.Len(t, stream.pending, 1)

	require.NoError(t, c.Poll(ctx))
	assert.Empty(t, stream.pending)

	rm, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rm.LastSequence)
	assert.True(t, rm.AssignedAgentID.Valid)
}

func TestConsumerDropsMalformedAndKeepsUndecodable(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{}
	var handled int
	c := NewConsumer(stream, HandlerFunc(func(context.Context, incident.Event) error {
		handled++
		return nil
	}), DefaultConsumerConfig("test"), logger.NewNop())

	stream.add([]byte("not json"))
	stream.add([]byte(`{"incident_id":"7f1c6c0e-0e7c-4c55-9a55-1f5b8f3f1d0a","sequence":1,"kind":"incident.reopened","schema_version":1,"payload":{}}`))
	require.NoError(t, c.Poll(ctx))

	assert.Equal(t, 0, handled)
	assert.Equal(t, []string{"1-0"}, stream.acked)
	require.Len(t, stream.pending, 1)
	assert.Equal(t, "2-0", stream.pending[0].ID)
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeStream{}
	cfg := DefaultConsumerConfig("test")
	cfg.Block = time.Millisecond
	c := NewConsumer(stream, HandlerFunc(func(context.Context, incident.Event) error {
		return errors.New("never succeeds")
	}), cfg, logger.NewNop())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerWalksPastEntriesThatNeverSucceed(t *testing.T) {
	ctx := context.Background()
	_, events := history(t)
	stream := &fakeStream{}
	cfg := DefaultConsumerConfig("projector")
	cfg.BatchSize = 2

	var attempts int
	c := NewConsumer(stream, HandlerFunc(func(context.Context, incident.Event) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("%w: connection reset", incident_errors.ErrPersistence)
		}
		return nil
	}), cfg, logger.NewNop())

	undecodable := []byte(`{"incident_id":"7f1c6c0e-0e7c-4c55-9a55-1f5b8f3f1d0a","sequence":1,"kind":"incident.reopened","schema_version":1,"payload":{}}`)
	for i := 0; i < 3; i++ {
		stream.add(undecodable)
	}
	stream.add(envelopeBytes(t, events[0]))

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Poll(ctx))
	}

	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"4-0"}, stream.acked)
	require.Len(t, stream.pending, 3)
	for _, m := range stream.pending {
		assert.NotEqual(t, "4-0", m.ID)
	}
}
