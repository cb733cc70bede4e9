// Command server runs the prior-authorization brokering service: the HTTP
// surface, the orchestrator, and the background outbox relay.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"authhub/internal/authorization"
	"authhub/internal/authorization/service"
	"authhub/internal/dispatch"
	"authhub/internal/dispatch/adapters"
	"authhub/internal/dispatch/engine"
	"authhub/internal/guide"
	"authhub/internal/idempotency"
	"authhub/internal/outbox"
	"authhub/internal/outbox/relay"
	"authhub/internal/platform/config"
	"authhub/internal/platform/httpserver"
	"authhub/internal/platform/logger"
	"authhub/internal/platform/metrics"
	"authhub/internal/platform/middleware"
	"authhub/internal/platform/postgres"
	platformredis "authhub/internal/platform/redis"
	txcontext "authhub/internal/platform/tx"
	httptransport "authhub/internal/transport/http"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	stores, runner, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()

	classifier := engine.NewClassifier(
		append(engine.DefaultTypeACodes(), cfg.Dispatch.ExtraTypeACodes...),
		append(engine.DefaultTypeBCodes(), cfg.Dispatch.ExtraTypeBCodes...),
	)
	registry, err := adapters.NewRegistry(
		adapters.NewTypeA(),
		adapters.NewTypeB(),
		adapters.NewTypeC(),
	)
	if err != nil {
		return err
	}
	engineCfg := engine.DefaultConfig()
	engineCfg.MaxPollAttempts = cfg.Dispatch.MaxPollAttempts
	eng, err := engine.New(classifier, registry, engineCfg, log, engine.WithMetrics(m))
	if err != nil {
		return err
	}

	generator := guide.NewTissGenerator(stores.guides)
	svc := service.New(runner, stores.auths, stores.ledger, stores.outbox, stores.dispatches, eng, generator, log)

	publisher, err := buildPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	rel := relay.New(stores.outbox, publisher, log,
		relay.WithTick(cfg.Outbox.Tick),
		relay.WithBatchSize(cfg.Outbox.BatchSize),
		relay.WithMetrics(m),
	)

	validator := middleware.NewHMACValidator(cfg.Server.JWTSigningKey)
	handler := httptransport.NewHandler(svc, rel, log, m)
	router := httptransport.NewRouter(handler, validator)
	srv := httpserver.New(cfg.Server.Addr, router,
		httpserver.WithShutdownTimeout(cfg.Server.ShutdownTimeout))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr, "backend", cfg.Storage.Backend)
		return srv.ListenAndServe()
	})
	group.Go(func() error {
		if err := rel.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return srv.Shutdown()
	})

	return group.Wait()
}

type storeSet struct {
	auths      authorization.Store
	ledger     idempotency.Store
	outbox     outbox.Store
	dispatches dispatch.Store
	guides     guide.Store
}

// buildStores assembles the persistence layer for the configured backend.
// Redis, when configured, takes over the idempotency ledger in either mode.
func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (storeSet, service.TxRunner, func(), error) {
	cleanup := func() {}

	var stores storeSet
	var runner service.TxRunner
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return storeSet{}, nil, cleanup, err
		}
		cleanup = func() { db.Close() }
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return storeSet{}, nil, cleanup, err
		}
		stores = storeSet{
			auths:      authorization.NewPostgres(db),
			ledger:     idempotency.NewPostgres(db),
			outbox:     outbox.NewPostgres(db),
			dispatches: dispatch.NewPostgres(db),
			guides:     guide.NewPostgres(db),
		}
		runner = txcontext.NewRunner(db)
	default:
		stores = storeSet{
			auths:      authorization.NewInMemoryStore(),
			ledger:     idempotency.NewInMemoryStore(),
			outbox:     outbox.NewInMemoryStore(),
			dispatches: dispatch.NewInMemoryStore(),
			guides:     guide.NewInMemoryStore(),
		}
		runner = txcontext.NewMemoryRunner()
	}

	if cfg.Redis.URL != "" {
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return storeSet{}, nil, cleanup, err
		}
		if client != nil {
			log.Info("idempotency ledger backed by redis")
			stores.ledger = idempotency.NewRedis(client.Client)
			prev := cleanup
			cleanup = func() {
				client.Close()
				prev()
			}
		}
	}
	return stores, runner, cleanup, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (relay.Publisher, error) {
	if cfg.Kafka.Enabled {
		log.Info("outbox publishing to kafka", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
		return relay.NewKafkaPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}
	return relay.NewLoggingPublisher(log), nil
}
