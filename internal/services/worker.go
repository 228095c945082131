package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/xmlangel/testcasecraft-sub009/internal/config"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
)

// Worker consumes sync tasks from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor TaskProcessor
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, concurrency int) *Worker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warnf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (w *Worker) SetProcessor(processor TaskProcessor) {
	w.processor = processor
}

// Start registers the handlers and begins consuming without blocking.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeSyncRecord, w.handleTask)
	w.mux.HandleFunc(TaskTypeSyncSweep, w.handleTask)

	logger.Infof("[Worker] Starting async worker...")
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	return nil
}

// Stop waits for active tasks up to the server's shutdown timeout.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	logger.Infof("[Worker] Shutdown complete")
}

func (w *Worker) handleTask(ctx context.Context, t *asynq.Task) error {
	var task SyncTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Errorf("[Worker] Failed to unmarshal task: %v", err)
		return err
	}
	task.Type = t.Type()

	logger.Infof("[Worker] Processing %s task: id=%s result_id=%d sweep=%s",
		task.Type, task.TaskID, task.ResultID, task.SweepKind)

	if w.processor == nil {
		logger.Warnf("[Worker] No processor set")
		return nil
	}

	err := w.processor(ctx, &task)
	if err != nil && syncerr.KindOf(err) != syncerr.KindUnknown && !syncerr.IsRetryable(err) {
		// permanent failures are dropped, which releases the dedup key
		logger.Warnf("[Worker] Task %s dropped: %v", task.TaskID, err)
		return nil
	}
	return err
}
