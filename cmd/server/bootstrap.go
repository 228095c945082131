package main

import (
	"github.com/xmlangel/testcasecraft-sub009/internal/config"
	"github.com/xmlangel/testcasecraft-sub009/internal/handlers"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/services"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
	"github.com/xmlangel/testcasecraft-sub009/internal/utils"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
)

// appServices holds the wired sync engine and its HTTP handlers.
type appServices struct {
	orchestrator *services.SyncOrchestrator
	aggregator   *services.StatusAggregator
	taskQueue    services.TaskQueue
	worker       *services.Worker
	scheduler    *services.SyncScheduler

	statusHandler *handlers.IssueStatusHandler
	syncHandler   *handlers.IssueSyncHandler
	healthHandler *handlers.HealthHandler
}

// bootstrap opens the database and wires the sync engine.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	if err := handlers.RegisterDBMetrics(db); err != nil {
		logger.Warn().Err(err).Msg("Failed to register database metrics")
	}

	// Without a key every stored secret is unreadable, so syncs fail with
	// ENCRYPTION_ERROR until one is configured.
	var encryptor *services.Encryptor
	if cfg.Encryption.Key == "" {
		logger.Warn().Msg("[Credential] encryption.key is not set, tracker secrets cannot be decrypted")
	} else {
		enc, err := services.NewEncryptor(cfg.Encryption.Key)
		if err != nil {
			logger.Fatalf("Invalid encryption key: %v", err)
		}
		encryptor = enc
	}
	resolver := services.NewCredentialResolver(db, encryptor, cfg.Tracker.CredentialTTL)

	client := tracker.NewJiraClient(tracker.JiraOptions{
		HTTPTimeout:     cfg.Tracker.HTTPTimeout,
		PageSize:        cfg.Tracker.PageSize,
		RateLimit:       cfg.Tracker.RateLimit,
		Burst:           cfg.Tracker.Burst,
		RetryMaxElapsed: cfg.Tracker.RetryMaxElapsed,
	})

	orchestrator := services.NewSyncOrchestrator(db, resolver, client, services.SyncOptionsFromConfig(&cfg.Sync))
	aggregator := services.NewStatusAggregator(db, resolver, client, cfg.Tracker.PageSize, cfg.Tracker.SnapshotTTL)

	processor := services.NewSyncTaskProcessor(orchestrator)
	taskQueue := services.NewTaskQueue(cfg, processor)

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, cfg.Sync.MaxConcurrent)
		worker.SetProcessor(processor)
		if err := worker.Start(); err != nil {
			logger.Error().Err(err).Msg("[Worker] failed to start")
			worker = nil
		}
	}

	var scheduler *services.SyncScheduler
	if cfg.Sync.Enabled {
		scheduler = services.NewSyncScheduler(orchestrator, cfg.Sync)
		if err := scheduler.Start(); err != nil {
			logger.Fatalf("Failed to start sync scheduler: %v", err)
		}
	} else {
		logger.Info().Msg("[Scheduler] background sweeps disabled")
	}

	return &appServices{
		orchestrator:  orchestrator,
		aggregator:    aggregator,
		taskQueue:     taskQueue,
		worker:        worker,
		scheduler:     scheduler,
		statusHandler: handlers.NewIssueStatusHandler(aggregator),
		syncHandler:   handlers.NewIssueSyncHandler(orchestrator, taskQueue),
		healthHandler: handlers.NewHealthHandler(db, taskQueue),
	}
}

// shutdown stops the scheduler first so no new sweep starts while the
// queue drains.
func (s *appServices) shutdown() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		logger.Info().Msg("[Scheduler] stopped")
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("[TaskQueue] close failed")
		}
	}
}
