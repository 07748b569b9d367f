package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/api/handlers/image"
	"image-transformer/internal/api/router"
	"image-transformer/internal/api/server"
	"image-transformer/internal/cache"
	"image-transformer/internal/config"
	"image-transformer/internal/infra/kafka/producer"
	"image-transformer/internal/infra/rabbitmq"
	"image-transformer/internal/migrations"
	"image-transformer/internal/processor"
	imagerepo "image-transformer/internal/repository/image"
	imagesvc "image-transformer/internal/service/image"
	"image-transformer/internal/storage"
	"image-transformer/internal/storage/file"
	"image-transformer/internal/storage/s3"
	"image-transformer/internal/worker"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config")

	// Connect to PostgreSQL (master and slaves).
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

	if err := migrations.Run(cfg.Database.Master.DSN()); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Blob storage backend.
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

	// Result cache backend.
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
		results = cache.NewMemory(cfg.Cache.Capacity, cfg.Cache.TTL)
	}

	// Job queue: connection, publisher for the API and consumers for the
	// embedded workers.
	conn, err := rabbitmq.Connect(ctx, cfg.Rabbit.URL, cfg.Rabbit.ConnectBackoff)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	pub, err := rabbitmq.NewPublisher(conn, &cfg.Rabbit)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create publisher")
	}

	// Initialize repository, event producer, pipeline and service layer.
	repo := imagerepo.NewRepository(db)
	events := producer.New(&cfg.Kafka, strategy)
	pipe := processor.New()
	service := imagesvc.NewService(store, repo, pub, results, pipe, cfg.Cache.TTL, cfg.Pipeline.MaxConcurrent)

	// Embedded transformation workers consuming from the job queue.
	w := worker.New(store, repo, results, pipe, events, cfg.Cache.TTL)
	consumer := rabbitmq.NewConsumer(conn, &cfg.Rabbit, w)

	var wg sync.WaitGroup
	consumer.Start(ctx, &wg, cfg.Rabbit.Workers)

	// HTTP server.
	imgHandler := image.NewHandler(service)
	r := router.Setup(imgHandler)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	zlog.Logger.Info().
		Str("addr", cfg.Server.HTTPPort).
		Int("workers", cfg.Rabbit.Workers).
		Msg("image transformer started")

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("shutting down")

	// Wait for in-flight jobs to settle their deliveries.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if err := pub.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close publisher")
	}
	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close rabbitmq connection")
	}
	if err := events.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msgf("failed to close slave DB %d", i)
		}
	}
}
