package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/cache"
	"image-transformer/internal/config"
	"image-transformer/internal/infra/kafka/producer"
	"image-transformer/internal/infra/rabbitmq"
	"image-transformer/internal/processor"
	imagerepo "image-transformer/internal/repository/image"
	"image-transformer/internal/storage"
	"image-transformer/internal/storage/file"
	"image-transformer/internal/storage/s3"
	"image-transformer/internal/worker"
)

// The worker binary consumes transformation jobs without exposing any
// HTTP surface. Scaling throughput means running more of these against
// the same queue. Schema migrations are left to the API binary.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.MustLoad("./config")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	var store storage.Storage
	switch cfg.Storage.Backend {
	case "file":
		store = file.NewStorage(cfg.Storage.BaseDir)
	default:
		store, err = s3.NewStorage(ctx, cfg.Storage.S3.Endpoint, cfg.Storage.S3.AccessKey, cfg.Storage.S3.SecretKey, cfg.Storage.S3.BucketName, cfg.Storage.S3.UseSSL)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
		}
	}

	// Workers must share the cache with the API, so a standalone worker
	// fleet only makes sense against redis.
	var results cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		opt, perr := redis.ParseURL(cfg.Cache.RedisURL)
		if perr != nil {
			zlog.Logger.Fatal().Err(perr).Msg("invalid redis url")
		}
		client := redis.NewClient(opt)
		if err := retry.Do(func() error { return client.Ping(ctx).Err() }, strategy); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		results = cache.NewRedis(client, cfg.Cache.Capacity, cfg.Cache.TTL)
	default:
		zlog.Logger.Warn().Msg("memory cache is process-local, results are invisible to the API cache")
		results = cache.NewMemory(cfg.Cache.Capacity, cfg.Cache.TTL)
	}

	conn, err := rabbitmq.Connect(ctx, cfg.Rabbit.URL, cfg.Rabbit.ConnectBackoff)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	repo := imagerepo.NewRepository(db)
	events := producer.New(&cfg.Kafka, strategy)
	pipe := processor.New()

	w := worker.New(store, repo, results, pipe, events, cfg.Cache.TTL)
	consumer := rabbitmq.NewConsumer(conn, &cfg.Rabbit, w)

	var wg sync.WaitGroup
	consumer.Start(ctx, &wg, cfg.Rabbit.Workers)

	zlog.Logger.Info().
		Int("workers", cfg.Rabbit.Workers).
		Str("queue", cfg.Rabbit.Queue).
		Msg("transform worker started")

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutting down")

	wg.Wait()

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close rabbitmq connection")
	}
	if err := events.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msgf("failed to close slave DB %d", i)
		}
	}
}
