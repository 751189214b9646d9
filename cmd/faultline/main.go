// Package main is the entry point for the Faultline error tracking service.
// It wires the capture pipeline to its stores, starts the HTTP server, the
// remote capture consumer and the retention job, and flushes on shutdown.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"faultline/internal/aggregator"
	"faultline/internal/alerting"
	"faultline/internal/api"
	"faultline/internal/banner"
	"faultline/internal/config"
	"faultline/internal/domain"
	"faultline/internal/ingest"
	"faultline/internal/notification"
	"faultline/internal/queue"
	kafkaqueue "faultline/internal/queue/kafka"
	memoryqueue "faultline/internal/queue/memory"
	"faultline/internal/retention"
	"faultline/internal/stats"
	"faultline/internal/store"
	memorystor "faultline/internal/store/memory"
	postgresstor "faultline/internal/store/postgres"
	redisstor "faultline/internal/store/redis"
	"faultline/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults apply when empty)")
	flag.Parse()

	banner.Print(os.Stdout)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			initLogger(&cfg.Logger).Error("failed to load configuration", "error", err, "path", *configPath)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := initLogger(&cfg.Logger)
	if cfg.Tracker.Version == "" {
		cfg.Tracker.Version = banner.Version
	}
	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
		"channels", len(cfg.Channels),
	)

	deps, cleanup, err := initDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps.tracker.Start(ctx)

	if deps.retention != nil {
		deps.retention.Start()
	}

	go func() {
		if err := deps.ingest.Run(ctx); err != nil {
			logger.Error("ingest error", "error", err)
			cancel()
		}
	}()

	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("Faultline started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// The final flush may need a full flush interval on top of the HTTP drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Server.WriteTimeout+cfg.Tracker.FlushInterval)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if deps.retention != nil {
		if err := deps.retention.Stop(shutdownCtx); err != nil {
			logger.Error("retention shutdown error", "error", err)
		}
	}

	if err := deps.tracker.Stop(shutdownCtx); err != nil {
		logger.Error("tracker shutdown error", "error", err)
	}

	logger.Info("Faultline stopped")
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	server    *api.Server
	tracker   *tracker.Tracker
	ingest    *ingest.Service
	retention *retention.Job
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		groups         store.GroupRepository
		counters       store.CounterStore
		consumer       queue.Consumer
		alertProducers notification.ProducerFactory
		healthChecks   = make(map[string]api.HealthCheck)
		cleanupFuncs   []func()
	)

	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	if cfg.Storage.UseMemory() {
		logger.Info("initializing in-memory storage")

		groups = memorystor.NewGroupRepository()

		memCounters := memorystor.NewCounterStore()
		counters = memCounters
		cleanupFuncs = append(cleanupFuncs, func() { _ = memCounters.Close() })

		captureQueue := memoryqueue.NewQueue(10000)
		consumer = captureQueue
		cleanupFuncs = append(cleanupFuncs, func() { _ = captureQueue.Close() })

		alertProducers = func(topic string) queue.Producer {
			return memoryqueue.NewQueue(1000)
		}
	} else {
		logger.Info("initializing production storage (Kafka, Redis, PostgreSQL)")

		ctx := context.Background()
		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("database migrations completed")

		groups = postgresstor.NewGroupRepository(db)
		healthChecks["postgres"] = db.Ping

		redisCounters, err := redisstor.NewCounterStore(&cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		counters = redisCounters
		healthChecks["redis"] = redisCounters.Ping
		cleanupFuncs = append(cleanupFuncs, func() { _ = redisCounters.Close() })

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		consumer = kafkaConsumer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaConsumer.Close() })

		brokers := cfg.Kafka.Brokers
		alertProducers = func(topic string) queue.Producer {
			return kafkaqueue.NewProducer(brokers, topic)
		}
	}

	// Notification transports, one per channel type
	kafkaTransport := notification.NewKafkaTransport(cfg.Kafka.AlertTopic, alertProducers)
	cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaTransport.Close() })

	mux := notification.NewMux()
	mux.Register(domain.ChannelTypeLog, notification.NewLogTransport(logger))
	mux.Register(domain.ChannelTypeWebhook, notification.NewWebhookTransport(cfg.Tracker.AlertSendTimeout))
	mux.Register(domain.ChannelTypeEmail, notification.NewEmailTransport())
	mux.Register(domain.ChannelTypeKafka, kafkaTransport)

	dispatcher := alerting.NewDispatcher(counters, mux, cfg.Channels, alerting.Config{
		DefaultThreshold: cfg.Tracker.FrequencyThreshold,
		RecentWindow:     cfg.Tracker.RecentWindow,
		QueueSize:        cfg.Tracker.AlertQueueSize,
		Workers:          cfg.Tracker.AlertWorkers,
		SendTimeout:      cfg.Tracker.AlertSendTimeout,
	}, logger)

	agg := aggregator.New(groups, counters, aggregator.Config{
		Parallelism:    cfg.Tracker.FlushParallelism,
		RecentContexts: cfg.Tracker.RecentContexts,
	}, logger)

	reporter := stats.New(groups, counters, cfg.Tracker.TopErrorsLimit, logger)

	tr := tracker.New(agg, dispatcher, reporter, tracker.Config{
		FlushInterval: cfg.Tracker.FlushInterval,
		Environment:   cfg.Tracker.Environment,
		Version:       cfg.Tracker.Version,
	}, logger)

	ingestService := ingest.NewService(consumer, tr, logger)

	var retentionJob *retention.Job
	if cfg.Retention.Enabled {
		job, err := retention.New(groups, cfg.Retention.Schedule, cfg.Retention.MaxAge, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		retentionJob = job
	}

	server := api.NewServer(api.ServerDeps{
		Config:         &cfg.Server,
		Logger:         logger,
		CaptureHandler: api.NewCaptureHandler(tr, logger),
		StatsHandler:   api.NewStatsHandler(tr, logger),
		GroupHandler:   api.NewGroupHandler(groups, logger),
		Capturer:       tr,
		HealthChecks:   healthChecks,
	})

	return &dependencies{
		server:    server,
		tracker:   tr,
		ingest:    ingestService,
		retention: retentionJob,
	}, cleanup, nil
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
