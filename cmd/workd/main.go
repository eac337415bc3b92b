// Package main implements workd, the proof-of-work service. It consumes
// work requests from Kafka, generates or validates work, and publishes the
// results.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/nanowork/internal/config"
	"github.com/bardlex/nanowork/internal/database"
	"github.com/bardlex/nanowork/internal/database/influx"
	"github.com/bardlex/nanowork/internal/database/postgres"
	"github.com/bardlex/nanowork/internal/database/redis"
	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/messaging"
	"github.com/bardlex/nanowork/internal/metrics"
	"github.com/bardlex/nanowork/internal/notify"
	"github.com/bardlex/nanowork/internal/search"
	"github.com/bardlex/nanowork/pkg/log"
	"github.com/bardlex/nanowork/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting workd",
		"version", cfg.Version,
		"search_workers", cfg.WorkerCount,
		"request_workers", cfg.RequestWorkers,
		"default_difficulty", fmt.Sprintf("%016x", cfg.DefaultDifficulty),
	)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("workd failed")
		os.Exit(1)
	}

	logger.Info("workd stopped")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores may still be starting alongside the service
	storeRetry := retry.NetworkConfig()
	storeRetry.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("stores not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	db, err := retry.DoWithResult(ctx, storeRetry, func() (*database.Manager, error) {
		return database.NewManager(storeConfig(cfg), logger)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("failed to close stores")
		}
	}()

	// Engine
	coordinator := search.NewCoordinator(&search.Config{
		Workers:     cfg.WorkerCount,
		BatchSize:   uint64(cfg.PollBatch),
		MaxAttempts: cfg.MaxAttempts,
	}, logger)

	var eng *engine.Engine
	m := metrics.New(func() int { return eng.InFlight() })
	eng = engine.New(coordinator, logger, append(db.Observers(), m)...)

	// Kafka
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	processor := NewWorkProcessor(cfg, logger, eng, kafkaClient, db, m)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(processor.Start(ctx))
	})

	g.Go(func() error {
		return ignoreCancel(kafkaClient.StartConsumer(ctx, messaging.TopicWorkRequests, cfg.KafkaGroupID,
			func() messaging.Message { return &messaging.WorkRequest{} }, processor))
	})

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr, m, db.Health, logger)
		g.Go(func() error {
			return server.Run(ctx)
		})
	}

	if cfg.NodeZMQAddr != "" {
		notifier, err := startNotifier(cfg.NodeZMQAddr, logger)
		if err != nil {
			return err
		}
		defer func() { _ = notifier.Close() }()

		handler := notify.NewConfirmationHandler(eng, logger)
		g.Go(func() error {
			return ignoreCancel(notifier.Listen(ctx, handler.HandleMessage))
		})
	}

	db.StartPeriodicTasks(ctx, eng.InFlight)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("processor shutdown failed")
	}

	return g.Wait()
}

// storeConfig builds the store configuration, leaving disabled stores nil
func storeConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{
		Redis: &redis.Config{URL: cfg.RedisURL},
	}

	if cfg.PostgresEnabled() {
		dbCfg.Postgres = &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			MaxLifetime:  30 * time.Minute,
		}
	}

	if cfg.InfluxEnabled() {
		dbCfg.Influx = &influx.Config{
			URL:     cfg.InfluxURL,
			Token:   cfg.InfluxToken,
			Org:     cfg.InfluxOrg,
			Bucket:  cfg.InfluxBucket,
			Service: cfg.ServiceName,
		}
	}

	return dbCfg
}

func startNotifier(endpoint string, logger *log.Logger) (*notify.ZMQNotifier, error) {
	notifier, err := notify.NewZMQNotifier(endpoint, logger)
	if err != nil {
		return nil, err
	}

	for _, topic := range []string{notify.TopicConfirmation, notify.TopicConfirmationHex} {
		if err := notifier.Subscribe(topic); err != nil {
			_ = notifier.Close()
			return nil, err
		}
	}

	if err := notifier.Connect(); err != nil {
		_ = notifier.Close()
		return nil, err
	}
	return notifier, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
