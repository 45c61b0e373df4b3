package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"incident-ledger/config"
	"incident-ledger/internal/commands"
	"incident-ledger/internal/handler"
	"incident-ledger/internal/metrics"
	"incident-ledger/internal/outbox"
	"incident-ledger/internal/projection"
	"incident-ledger/internal/redis"
	"incident-ledger/internal/repository"
	"incident-ledger/internal/server"
	"incident-ledger/internal/services"
	"incident-ledger/internal/storage"
	"incident-ledger/internal/websocket"
	"incident-ledger/pkg/database"
	"incident-ledger/pkg/logger"
	"incident-ledger/pkg/migrate"
)

const (
	projectorGroup = "projector"
	archiverGroup  = "archiver"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "Service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

type stores struct {
	events     repository.EventLog
	readModels repository.ReadModelStore
	// outbox is nil for the memory driver.
	outbox repository.OutboxRepository
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger, srv *server.Server) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn(ctx, "Using in-memory stores; data is lost on restart")
		return stores{
			events:     repository.NewMemoryEventLog(),
			readModels: repository.NewMemoryReadModelStore(),
		}, nil
	}

	db, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return stores{}, err
	}
	srv.OnShutdown("postgres", db.Close)
	srv.AddHealthCheck("postgres", db.HealthCheck)

	if err := migrate.Up(ctx, db.SQL); err != nil {
		return stores{}, err
	}

	outboxRepo := repository.NewOutboxRepository(db.SQL)
	return stores{
		events:     repository.NewPostgresEventLog(db.SQL, outboxRepo),
		readModels: repository.NewPostgresReadModelStore(db.SQL),
		outbox:     outboxRepo,
	}, nil
}

// connectRedis returns nil when Redis is unreachable and the memory driver
// can run without it.
func connectRedis(ctx context.Context, cfg *config.Config, log *logger.Logger, srv *server.Server) (*goredis.Client, error) {
	client := redis.NewClient(redis.ConfigFrom(cfg))
	if err := redis.Ping(ctx, client); err != nil {
		_ = client.Close()
		if cfg.StoreDriver == config.StoreDriverMemory {
			log.Warn(ctx, "Redis unavailable; idempotency, caching and live feeds are disabled", zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	srv.OnShutdown("redis", client.Close)
	srv.AddHealthCheck("redis", func(ctx context.Context) error { return redis.Ping(ctx, client) })
	return client, nil
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := server.New(cfg, log)

	st, err := openStores(ctx, cfg, log, srv)
	if err != nil {
		return err
	}
	client, err := connectRedis(ctx, cfg, log, srv)
	if err != nil {
		return err
	}

	// Queries may read through the cache; the projector never does.
	readModels, projectionStore := st.readModels, st.readModels
	if client != nil && cfg.ReadModelCacheTTL > 0 {
		cached := redis.NewCachedReadModelStore(st.readModels, client, cfg.ReadModelCacheTTL, log)
		readModels, projectionStore = cached, cached.Direct()
	}
	projector := projection.NewProjector(projectionStore, log, m)

	svc := services.NewIncidentService(
		st.events,
		readModels,
		projector,
		commands.NewBus(commands.ValidationProxy),
		services.IncidentServiceConfig{
			MaxRetries:       cfg.CommandMaxRetries,
			BaseBackoff:      cfg.CommandBackoff,
			InlineProjection: cfg.InlineProjection(),
		},
		log,
		m,
	)
	if client != nil {
		svc.SetIdempotencyStore(redis.NewIdempotencyStore(client, cfg.IdempotencyTTL))
	}

	g, gctx := errgroup.WithContext(ctx)
	hub := websocket.NewHub()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var archives handler.ArchiveLinker
	if client != nil {
		bridge := websocket.NewRedisBridge(redis.NewSubscriber(client), hub)
		g.Go(func() error { return bridge.Run(gctx) })
	}

	if client != nil && st.outbox != nil {
		processor := outbox.DefaultProcessor(cfg, st.outbox, redis.NewPublisher(client, cfg.EventStreamMaxLen), log, m)
		g.Go(func() error {
			processor.Run(gctx)
			return nil
		})

		if !cfg.InlineProjection() {
			reader := redis.NewStreamReader(client, cfg.EventStream, projectorGroup, cfg.ConsumerName)
			consumer := projection.NewConsumer(reader, projector, projection.DefaultConsumerConfig(projectorGroup), log)
			g.Go(func() error { return consumer.Run(gctx) })
		}

		if cfg.ArchiveEnabled() {
			s3Client, err := storage.NewClient(ctx, storage.S3ConfigFrom(cfg))
			if err != nil {
				return err
			}
			archiver := storage.NewArchiver(st.events, s3Client, log)
			archives = archiver
			reader := redis.NewStreamReader(client, cfg.EventStream, archiverGroup, cfg.ConsumerName)
			consumer := projection.NewConsumer(reader, archiver, projection.DefaultConsumerConfig(archiverGroup), log)
			g.Go(func() error { return consumer.Run(gctx) })
		}
	}

	srv.SetupRoutes(&server.Handlers{
		Incidents: handler.NewIncidentHandler(svc, archives),
		Watch:     websocket.NewHandler(svc, hub, log),
	}, reg)
	g.Go(func() error { return srv.Run(gctx) })

	log.Info(ctx, "Incident ledger started",
		zap.String("store", cfg.StoreDriver),
		zap.Bool("inline_projection", cfg.InlineProjection()),
		zap.Bool("redis", client != nil),
		zap.Bool("archive", archives != nil),
	)
	return g.Wait()
}
