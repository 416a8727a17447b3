package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrish7/osprey/internal/cache"
	"github.com/dkrish7/osprey/internal/cache/freecache"
	"github.com/dkrish7/osprey/internal/cache/redis"
	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/db"
	"github.com/dkrish7/osprey/internal/db/repository"
	"github.com/dkrish7/osprey/internal/job"
	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/queue/jetstream"
	"github.com/dkrish7/osprey/internal/sandbox/docker"
	"github.com/dkrish7/osprey/internal/storage/minio"
	"github.com/dkrish7/osprey/internal/tool"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfig()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.SERVICE_NAME)

	shutdownTracer := tracer.Init(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
	defer shutdownTracer()

	pgCfg, err := config.GetPostgresConfig()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("postgres config")
	}
	database, err := db.New(ctx, pgCfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("postgres connect")
	}
	defer database.Close()

	natsCfg, err := config.GetNatsConfig()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("nats config")
	}
	q, err := jetstream.NewJetStreamClient(natsCfg.URL)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("jetstream connect")
	}
	defer q.Shutdown()

	minioCfg, err := config.GetMinioConfig()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("minio config")
	}
	store, err := minio.NewMinioClient(minioCfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("minio connect")
	}
	defer store.ShutDown(ctx)

	c := buildCache(ctx, cfg.CACHE_TYPE)
	defer c.ShutDown(ctx)

	sandboxCfg, err := config.GetSandboxConfig()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("sandbox config")
	}
	runner, err := docker.NewRunner(sandboxCfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("docker connect")
	}
	registry := tool.NewRegistry(runner, sandboxCfg)

	workerCfg, err := config.GetWorkerConfig()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("worker config")
	}

	hookRepo := repository.NewWebhookRepository(database)
	deliveryRepo := repository.NewDeliveryRepository(database)
	deliverer := webhook.NewDeliverer(hookRepo, deliveryRepo)
	dispatcher := webhook.NewDispatcher(hookRepo, deliveryRepo, deliverer)

	jobRepo := repository.NewJobRepository(database)
	timeout := time.Duration(sandboxCfg.DEFAULT_TIMEOUT_MS) * time.Millisecond
	worker := job.NewWorker(jobRepo, c, q, store, registry, dispatcher, workerCfg.POOL_SIZE, timeout)
	if err := worker.Start(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("worker subscribe")
	}
	logger.Log.Info().Int("pool_size", workerCfg.POOL_SIZE).Msg("worker started")

	scheduler := webhook.NewScheduler(hookRepo, deliveryRepo, deliverer)
	go scheduler.Run(ctx)

	<-ctx.Done()
	logger.Log.Info().Msg("shutting down")
}

func buildCache(ctx context.Context, cacheType string) cache.Cache {
	switch cacheType {
	case "redis":
		redisCfg, err := config.GetRedisConfig()
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("redis config")
		}
		c, err := redis.NewRedisClient(ctx, redisCfg)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("redis connect")
		}
		return c
	case "freecache":
		fcCfg, err := config.GetFreeCacheConfig()
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("freecache config")
		}
		return freecache.NewFreeCache(fcCfg)
	default:
		logger.Log.Fatal().Str("cache_type", cacheType).Msg("unknown CACHE_TYPE")
		return nil
	}
}
