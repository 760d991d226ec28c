package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carefeed/internal/broker"
	"carefeed/internal/config"
	"carefeed/internal/constants"
	"carefeed/internal/database"
	"carefeed/internal/directory"
	"carefeed/internal/presence"
	"carefeed/internal/retry"
	"carefeed/internal/service"
	"carefeed/internal/tracing"
	"carefeed/internal/unread"
	"carefeed/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Carefeed %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting Carefeed")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultConnectRetryAttempts,
		Jitter:       true,
	})

	// Initialize database with exponential backoff retry
	var db *database.Database
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: time.Duration(cfg.Redis.DialTimeoutSec) * time.Second,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warnf("Failed to close redis client: %v", err)
		}
	}()

	err = backoff.Retry(ctx, func() error {
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			logger.Warnf("Failed to reach redis: %v", pingErr)
			return pingErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis after retries: %w", err)
	}

	// Initialize the broker-backed mailbox store with backoff retry
	var mailbox *broker.MailboxStore
	err = backoff.Retry(ctx, func() error {
		var initErr error
		mailbox, initErr = broker.NewMailboxStore(broker.Config{
			URL:                cfg.Broker.URL,
			MailboxTTL:         time.Duration(cfg.Broker.MailboxTTLDays) * 24 * time.Hour,
			OverflowMailboxTTL: time.Duration(cfg.Broker.OverflowMailboxTTLDays) * 24 * time.Hour,
		}, logger)
		if initErr != nil {
			logger.Warnf("Failed to connect to broker: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker after retries: %w", err)
	}
	defer func() {
		if err := mailbox.Close(); err != nil {
			logger.Warnf("Failed to close mailbox store: %v", err)
		}
	}()

	presenceCache := presence.NewCache(presence.NewRedisSource(redisClient), logger)
	unreadStore := unread.NewStore(redisClient,
		time.Duration(cfg.Redis.UnreadCounterTTLDays)*24*time.Hour)
	nameResolver := directory.NewRedisResolver(redisClient, logger)

	pushTimeout := time.Duration(cfg.Server.LivePushTimeoutSec) * time.Second
	if pushTimeout <= 0 {
		pushTimeout = time.Duration(constants.DefaultLivePushTimeoutSec) * time.Second
	}

	drainWorker := service.NewDrainWorker(mailbox, nil, service.DrainConfig{
		BatchSize:      cfg.Drain.BatchSize,
		ReceiveTimeout: time.Duration(cfg.Drain.ReceiveTimeoutMs) * time.Millisecond,
		WorkerPoolSize: cfg.Drain.WorkerPoolSize,
	}, logger)

	// Socket lifecycle drives presence and backlog drains: first attach marks
	// the recipient online and schedules a drain, last detach marks offline.
	hub := ws.NewHub(pushTimeout,
		func(recipientID string) {
			presenceCache.SetOnline(recipientID)
			drainWorker.OnReconnect(recipientID)
		},
		func(recipientID string) {
			presenceCache.SetOffline(recipientID)
		},
		logger)
	drainWorker.SetLiveChannel(hub)

	drainWorker.Start(ctx)
	defer drainWorker.Stop()

	router := service.NewRouter(presenceCache, hub, mailbox, unreadStore, logger)
	feedbackService := service.NewFeedbackService(db, router, nameResolver, unreadStore, logger)

	server := NewServer(cfg, feedbackService, hub, drainWorker, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
