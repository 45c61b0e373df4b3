package projection

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/domain/outbox"
	"incident-ledger/internal/redis"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

// Stream is the consumer-group view of the event stream.
type Stream interface {
	EnsureGroup(ctx context.Context) error
	ReadPending(ctx context.Context, after string, count int64) ([]redis.StreamMessage, error)
	ReadNew(ctx context.Context, count int64, block time.Duration) ([]redis.StreamMessage, error)
	Ack(ctx context.Context, ids ...string) error
}

// Handler receives decoded events. Returning an error leaves the entry
// pending so it is delivered again on a later poll.
type Handler interface {
	Apply(ctx context.Context, e incident.Event) error
}

type HandlerFunc func(ctx context.Context, e incident.Event) error

func (f HandlerFunc) Apply(ctx context.Context, e incident.Event) error { return f(ctx, e) }

type ConsumerConfig struct {
	Name      string
	BatchSize int64
	Block     time.Duration
	// Backoff is the pause after a failed poll.
	Backoff time.Duration
}

func DefaultConsumerConfig(name string) ConsumerConfig {
	return ConsumerConfig{Name: name, BatchSize: 100, Block: 2 * time.Second, Backoff: time.Second}
}

// Consumer drives a Handler from a Redis stream consumer group with
// at-least-once delivery.
type Consumer struct {
	stream  Stream
	handler Handler
	cfg     ConsumerConfig
	log     *logger.Logger
	// cursor is the id of the last pending entry visited; empty means the head.
	cursor string
}

func NewConsumer(stream Stream, handler Handler, cfg ConsumerConfig, log *logger.Logger) *Consumer {
	return &Consumer{stream: stream, handler: handler, cfg: cfg, log: log.Named(cfg.Name)}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx); err != nil {
		return err
	}
	c.log.Info(ctx, "Stream consumer started")
	for {
		if ctx.Err() != nil {
			c.log.Info(context.Background(), "Stream consumer stopped")
			return nil
		}
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.log.Error(ctx, "Stream poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.Backoff):
			}
		}
	}
}

// Poll retries one page of this consumer's pending entries, then reads new
// ones. Successive polls walk the whole pending list and wrap around.
func (c *Consumer) Poll(ctx context.Context) error {
	pending, err := c.stream.ReadPending(ctx, c.cursor, c.cfg.BatchSize)
	if err != nil {
		return err
	}
	if err := c.handle(ctx, pending); err != nil {
		return err
	}
	if int64(len(pending)) < c.cfg.BatchSize {
		c.cursor = ""
	} else {
		c.cursor = pending[len(pending)-1].ID
	}

	fresh, err := c.stream.ReadNew(ctx, c.cfg.BatchSize, c.cfg.Block)
	if err != nil {
		return err
	}
	return c.handle(ctx, fresh)
}

func (c *Consumer) handle(ctx context.Context, msgs []redis.StreamMessage) error {
	var acked []string
	for _, msg := range msgs {
		if c.process(ctx, msg) {
			acked = append(acked, msg.ID)
		}
	}
	return c.stream.Ack(ctx, acked...)
}

// process reports whether the entry is done with and can be acked.
func (c *Consumer) process(ctx context.Context, msg redis.StreamMessage) bool {
	var env outbox.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		// Nothing will ever parse this entry.
		c.log.Error(ctx, "Dropping malformed stream entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return true
	}

	ctx = logger.WithIncidentID(ctx, env.IncidentID.String())
	e, err := env.Event()
	if err != nil {
		c.log.Error(ctx, "Cannot decode event",
			zap.String("entry_id", msg.ID),
			zap.String("kind", env.Kind),
			zap.Int("schema_version", env.SchemaVersion),
			zap.Error(err),
		)
		return false
	}

	if err := c.handler.Apply(ctx, e); err != nil {
		level := c.log.Error
		if incident_errors.Retryable(err) {
			level = c.log.Warn
		}
		level(ctx, "Event handling failed, will retry",
			zap.String("entry_id", msg.ID),
			zap.String("kind", string(e.Kind())),
			zap.Int64("sequence", e.Sequence),
			zap.Error(err),
		)
		return false
	}
	return true
}
