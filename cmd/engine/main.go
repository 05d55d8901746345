package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/fleetsentry-systems/fleetsentry/common/logging"
	natsclient "github.com/fleetsentry-systems/fleetsentry/common/messaging/nats"
	"github.com/fleetsentry-systems/fleetsentry/internal/archive"
	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/contacts"
	"github.com/fleetsentry-systems/fleetsentry/internal/handlers"
	"github.com/fleetsentry-systems/fleetsentry/internal/ingestion"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
	"github.com/fleetsentry-systems/fleetsentry/internal/notification"
	"github.com/fleetsentry-systems/fleetsentry/internal/pipeline"
	"github.com/fleetsentry-systems/fleetsentry/internal/preload"
	"github.com/fleetsentry-systems/fleetsentry/internal/reasoning"
	"github.com/fleetsentry-systems/fleetsentry/internal/repository"
	"github.com/fleetsentry-systems/fleetsentry/internal/review"
	"github.com/fleetsentry-systems/fleetsentry/internal/scheduler"
	"github.com/fleetsentry-systems/fleetsentry/internal/server"
	"github.com/fleetsentry-systems/fleetsentry/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)
	logger = logger.With(logging.Service("engine"))

	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo, err := repository.NewPostgresRepository(context.Background(), connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// NATS task bus
	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
	broker, err := natsclient.NewClient(natsCfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer broker.Close()

	enqueuer := tasks.NewPublisher(broker)

	// Throttle gate: Redis fast path when enabled, repository-only otherwise
	var gate notification.Gate = notification.NoopGate{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.WarnContext(context.Background(),
				"redis unavailable, throttle gate falls through to database",
				logging.Error(err))
		} else {
			gate = notification.NewRedisGate(rdb)
			defer rdb.Close()
		}
	}

	// Collaborator clients
	preloader := preload.NewHTTPClient(cfg.Preload.BaseURL, cfg.Preload.Timeout)
	resolver := contacts.NewHTTPResolver(cfg.Contacts.BaseURL, cfg.Contacts.Timeout)

	provider := reasoning.NewOpenAIProvider(reasoning.Config{
		APIURL: cfg.Reasoning.APIURL,
		APIKey: cfg.Reasoning.APIKey,
		Model:  cfg.Reasoning.Model,
	})

	var archiver archive.Archiver = archive.NoopArchiver{}
	if cfg.Archive.Enabled {
		archiver, err = archive.NewOpenSearchArchiver(cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to connect to OpenSearch: %v", err)
		}
	}

	// Revalidation scheduler
	sched := scheduler.New(repo, enqueuer, cfg.Policy, logger)

	// Pipeline orchestrator
	orchestrator := pipeline.NewOrchestrator(
		repo, provider, preloader, enqueuer, sched, archiver,
		cfg.Policy, cfg.Reasoning.StageTimeout, logger,
	)

	// Notification engine
	channels := []notification.Channel{
		notification.NewProviderChannel(models.ChannelSMS,
			cfg.Notification.ProviderURL, cfg.Notification.ProviderToken, cfg.Notification.DispatchTimeout),
		notification.NewProviderChannel(models.ChannelWhatsApp,
			cfg.Notification.ProviderURL, cfg.Notification.ProviderToken, cfg.Notification.DispatchTimeout),
		notification.NewProviderChannel(models.ChannelVoice,
			cfg.Notification.ProviderURL, cfg.Notification.ProviderToken, cfg.Notification.DispatchTimeout),
		notification.NewEmailChannel(cfg.Notification.SMTP),
		notification.NewWebhookChannel(cfg.Notification.WebhookURL, cfg.Notification.DispatchTimeout),
	}
	notifier := notification.NewEngine(repo, resolver, channels, gate, cfg.Notification, logger)

	// Ingestion gate and review overlay
	ingestGate := ingestion.NewGate(repo, enqueuer, cfg.Policy, logger)
	reviews := review.NewService(repo, logger)

	// Start the scheduler and restore persisted revalidation timers
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	sched.Start(schedCtx)
	if err := sched.Restore(context.Background()); err != nil {
		log.Fatalf("Failed to restore revalidation timers: %v", err)
	}

	// Start the task worker pool
	consumer := tasks.NewConsumer(broker, orchestrator, notifier, logger)
	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start task consumer: %v", err)
	}

	// HTTP server
	handler := handlers.New(ingestGate, repo, reviews, enqueuer, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.InfoContext(context.Background(), "engine listening",
			"port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.InfoContext(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	consumer.Stop()
	sched.Stop()
	if err := broker.Drain(); err != nil {
		logger.WarnContext(shutdownCtx, "broker drain failed", logging.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "server shutdown failed", logging.Error(err))
	}
}
