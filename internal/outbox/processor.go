package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"incident-ledger/config"
	"incident-ledger/internal/domain/outbox"
	"incident-ledger/internal/metrics"
	"incident-ledger/internal/redis"
	"incident-ledger/internal/repository"
	"incident-ledger/pkg/logger"
)

// Publisher delivers encoded envelopes to the durable stream and to the live
// pub/sub channel of an incident.
type Publisher interface {
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Processor struct {
	repo         repository.OutboxRepository
	publisher    Publisher
	stream       string
	batchSize    int
	interval     time.Duration
	maxRetries   int
	claimTimeout time.Duration
	log          *logger.Logger
	metrics      *metrics.Metrics
	clock        func() time.Time
}

func NewProcessor(repo repository.OutboxRepository, publisher Publisher, stream string, batchSize int, interval time.Duration, maxRetries int, claimTimeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		repo:         repo,
		publisher:    publisher,
		stream:       stream,
		batchSize:    batchSize,
		interval:     interval,
		maxRetries:   maxRetries,
		claimTimeout: claimTimeout,
		log:          log.Named("outbox"),
		metrics:      m,
		clock:        time.Now,
	}
}

func DefaultProcessor(cfg *config.Config, repo repository.OutboxRepository, publisher Publisher, log *logger.Logger, m *metrics.Metrics) *Processor {
	return NewProcessor(repo, publisher, cfg.EventStream, cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxMaxRetries, cfg.OutboxClaimTimeout, log, m)
}

// Run publishes a batch on every tick until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				p.log.Error(ctx, "Outbox batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes up to batchSize pending rows in stream order and
// returns how many were delivered. After a failure the remaining rows of the
// same incident wait for the next batch so the stream never skips a sequence.
// A row whose claim outlives claimTimeout is published again; consumers drop
// the duplicate.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	batch, err := p.repo.GetPending(ctx, p.batchSize, p.maxRetries, p.clock().Add(-p.claimTimeout))
	if err != nil {
		return 0, err
	}

	delivered := 0
	blocked := make(map[uuid.UUID]struct{})
	for i := range batch {
		row := &batch[i]
		if _, skip := blocked[row.IncidentID]; skip {
			continue
		}
		if err := p.process(ctx, row); err != nil {
			blocked[row.IncidentID] = struct{}{}
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (p *Processor) process(ctx context.Context, row *outbox.OutboxEvent) error {
	ctx = logger.WithIncidentID(ctx, row.IncidentID.String())
	if err := p.repo.MarkProcessing(ctx, row.ID); err != nil {
		return err
	}

	payload, err := json.Marshal(row.Envelope())
	if err == nil {
		_, err = p.publisher.Append(ctx, p.stream, payload)
	}
	if err != nil {
		p.fail(ctx, row, err)
		return err
	}

	// Live subscribers are best effort; the stream is the record.
	if err := p.publisher.Publish(ctx, redis.IncidentChannel(row.IncidentID.String()), payload); err != nil {
		p.log.Warn(ctx, "Live publish failed", zap.Int64("sequence", row.Sequence), zap.Error(err))
	}

	if err := p.repo.MarkCompleted(ctx, row.ID); err != nil {
		p.log.Error(ctx, "Failed to mark outbox row completed; it is republished once its claim expires",
			zap.String("outbox_id", row.ID.String()),
			zap.Duration("claim_timeout", p.claimTimeout),
			zap.Error(err),
		)
		return err
	}
	p.metrics.IncPublished(metrics.OutcomeOK)
	return nil
}

func (p *Processor) fail(ctx context.Context, row *outbox.OutboxEvent, cause error) {
	fields := []zap.Field{
		zap.String("outbox_id", row.ID.String()),
		zap.Int64("sequence", row.Sequence),
		zap.Int("retry_count", row.RetryCount+1),
		zap.Error(cause),
	}
	if row.RetryCount+1 >= p.maxRetries {
		p.metrics.IncPublished(metrics.OutcomeFailed)
		p.log.Error(ctx, "Outbox row exhausted its retries", fields...)
		if err := p.repo.MarkFailed(ctx, row.ID, cause.Error()); err != nil {
			p.log.Error(ctx, "Failed to mark outbox row failed", zap.Error(err))
		}
		return
	}
	p.metrics.IncPublished(metrics.OutcomeError)
	p.log.Warn(ctx, "Outbox publish failed, will retry", fields...)
	if err := p.repo.IncrementRetry(ctx, row.ID, cause.Error()); err != nil {
		p.log.Error(ctx, "Failed to record outbox retry", zap.Error(err))
	}
}
