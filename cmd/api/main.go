// cmd/api/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"spark/internal/adapter/events"
	"spark/internal/adapter/lock"
	"spark/internal/adapter/storage"
	"spark/internal/config"
	"spark/internal/domain/spark"
	"spark/internal/logging"
	"spark/internal/server"
	"spark/internal/server/handlers"
	"spark/internal/service/dedup"
	geoService "spark/internal/service/geo"
	"spark/internal/service/ingest"
	"spark/internal/service/matching"
	"spark/internal/service/proximity"
	"spark/internal/service/sweep"
)

func main() {
	// A missing .env file is fine; the environment may be set directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Environment)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Initialize dependencies
	db, err := storage.Connect(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxOpenConns))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Database.EnsureSchema {
		if err := storage.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	natsConn, err := initNATS(cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConn.Close()

	// Event bus: NATS always, Kafka when brokers are configured
	buses := []spark.EventBus{events.NewNATSBus(natsConn, cfg.NATS.UserSubjectPrefix)}
	if cfg.Kafka.Enabled() {
		kafkaBus := events.NewKafkaBus(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer func() {
			if err := kafkaBus.Close(); err != nil {
				logger.Warn("error closing kafka writer", "error", err)
			}
		}()
		buses = append(buses, kafkaBus)
		logger.Info("kafka event bus enabled", "topic", cfg.Kafka.Topic)
	}
	eventBus := events.NewMultiBus(buses...)

	// Initialize storage adapters
	sparkStore := storage.NewSparkStore(db)
	userStore := storage.NewUserStore(db)
	chatRoomStore := storage.NewChatRoomStore(db)
	geoSpatialService := geoService.NewGeoSpatialService(db, geoService.DefaultGeoSpatialConfig())

	// Initialize services
	guard := dedup.NewGuard(dedup.Config{
		HardWindow:        cfg.Spark.HardDedupWindow,
		ProximityCooldown: cfg.Spark.ProximityCooldown,
		ManualCooldown:    cfg.Spark.ManualCooldown,
		InterestCooldown:  cfg.Spark.InterestCooldown,
	})

	detector := proximity.NewDetector(
		geoSpatialService,
		userStore,
		sparkStore,
		guard,
		eventBus,
		proximity.DetectorConfig{
			MaxDistanceMeters: cfg.Spark.MaxDistanceMeters,
			Lookback:          cfg.Spark.Lookback,
			Strength:          cfg.Spark.ProximityStrength,
			Expiry:            cfg.Spark.ProximityExpiry,
		},
		logger,
	)

	matchingService := matching.NewService(
		sparkStore,
		userStore,
		userStore,
		matching.NewProvisioner(chatRoomStore),
		guard,
		eventBus,
		matching.ServiceConfig{
			ManualStrength:   cfg.Spark.ManualStrength,
			ManualExpiry:     cfg.Spark.ManualExpiry,
			MaxMessageLength: cfg.Spark.MaxMessageLength,
		},
		logger,
	)

	// Initialize the ingestion queue
	queueConfig := ingest.QueueConfig{
		Stream:      cfg.Queue.Stream,
		Subject:     cfg.Queue.Subject,
		Durable:     cfg.Queue.Durable,
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		AckWait:     cfg.Queue.AckWait,
		JobTimeout:  cfg.Queue.JobTimeout,
	}

	var (
		queue    *ingest.Queue
		consumer jetstream.Consumer
	)
	if cfg.Queue.Enabled {
		js, err := jetstream.New(natsConn)
		if err != nil {
			return fmt.Errorf("failed to open jetstream: %w", err)
		}
		queue = ingest.NewQueue(js, detector, queueConfig, logger)
		consumer, err = queue.Setup(ctx, js)
		if err != nil {
			return fmt.Errorf("failed to set up ingestion queue: %w", err)
		}
	} else {
		queue = ingest.NewQueue(nil, detector, queueConfig, logger)
		logger.Warn("ingestion queue disabled, detection runs inline")
	}

	// Initialize sweeps
	var locker sweep.Locker
	if cfg.Redis.URL != "" {
		redisClient, err := lock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient)
	}

	scheduler, err := sweep.NewScheduler(locker, logger)
	if err != nil {
		return err
	}

	interestSweep := sweep.NewInterestSweep(userStore, userStore, sparkStore, guard, eventBus, sweep.InterestConfig{
		MinSharedInterests: cfg.Spark.MinSharedInterests,
		StrengthThreshold:  cfg.Spark.InterestStrengthThreshold,
		Expiry:             cfg.Spark.InterestExpiry,
	}, logger)
	expirationSweep := sweep.NewExpirationSweep(sparkStore, eventBus, logger)
	cleanupSweep := sweep.NewCleanupSweep(geoSpatialService, cfg.Sweep.LocationRetention, logger)

	if err := scheduler.Register("interest", cfg.Sweep.InterestInterval, interestSweep.Task()); err != nil {
		return err
	}
	if err := scheduler.Register("expiration", cfg.Sweep.ExpirationInterval, expirationSweep.Task()); err != nil {
		return err
	}
	if err := scheduler.Register("cleanup", cfg.Sweep.CleanupInterval, cleanupSweep.Task()); err != nil {
		return err
	}

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, server.Dependencies{
		Sparks:            matchingService,
		Locations:         geoSpatialService,
		Queue:             queue,
		Limiter:           handlers.NewLocationLimiter(cfg.RateLimit.LocationsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL),
		Events:            natsConn,
		UserSubjectPrefix: cfg.NATS.UserSubjectPrefix,
		Logger:            logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	// Workers keep their own context so in-flight jobs finish during shutdown
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	if consumer != nil {
		g.Go(func() error {
			if err := queue.Start(workCtx, consumer); err != nil {
				return err
			}
			<-gctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				logger.Warn("ingestion queue shutdown error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		return scheduler.Stop()
	})

	g.Go(func() error {
		return runHTTPServer(gctx, httpServer, cfg.Server, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runHTTPServer(ctx context.Context, srv *server.Server, cfg config.ServerConfig, logger *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "host", cfg.Host, "port", cfg.Port)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-serverErr
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
