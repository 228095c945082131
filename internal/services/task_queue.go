package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/xmlangel/testcasecraft-sub009/internal/config"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
)

const (
	TaskTypeSyncRecord = "sync:record"
	TaskTypeSyncSweep  = "sync:sweep"
)

// SyncTask is a manual sync request handed to the queue.
type SyncTask struct {
	TaskID      string `json:"task_id"`
	Type        string `json:"type"`
	ResultID    uint   `json:"result_id,omitempty"`
	SweepKind   string `json:"sweep_kind,omitempty"`
	RequestedBy uint   `json:"requested_by"`
}

func NewSyncRecordTask(resultID, requestedBy uint) *SyncTask {
	return &SyncTask{TaskID: uuid.NewString(), Type: TaskTypeSyncRecord, ResultID: resultID, RequestedBy: requestedBy}
}

func NewSweepTask(kind string, requestedBy uint) *SyncTask {
	return &SyncTask{TaskID: uuid.NewString(), Type: TaskTypeSyncSweep, SweepKind: kind, RequestedBy: requestedBy}
}

// DedupKey names the task's target. Requests for the same result or sweep
// share it while an earlier one is still queued.
func (t *SyncTask) DedupKey() string {
	if t.Type == TaskTypeSyncRecord {
		return fmt.Sprintf("%s:%d", t.Type, t.ResultID)
	}
	return t.Type + ":" + t.SweepKind
}

// TaskProcessor handles one dequeued task.
type TaskProcessor func(context.Context, *SyncTask) error

// TaskQueue defines the interface for manual sync processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SyncTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue returns a Redis backed queue when Redis is enabled and
// reachable, otherwise an in-process queue.
func NewTaskQueue(cfg *config.Config, processor TaskProcessor) TaskQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncQueue(&cfg.Redis)
		if err == nil {
			logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
			return queue
		}
		logger.Warnf("[TaskQueue] Redis unavailable, falling back to in-process mode: %v", err)
	} else {
		logger.Infof("[TaskQueue] In-process queue initialized (Redis disabled)")
	}
	q := NewSyncQueue()
	q.SetProcessor(processor)
	return q
}

// NewSyncTaskProcessor dispatches tasks to the orchestrator.
func NewSyncTaskProcessor(o *SyncOrchestrator) TaskProcessor {
	return func(ctx context.Context, task *SyncTask) error {
		switch task.Type {
		case TaskTypeSyncRecord:
			result, err := o.SyncRecord(ctx, task.ResultID)
			if err != nil {
				return err
			}
			logger.Info().Str("task_id", task.TaskID).Uint("result_id", task.ResultID).
				Str("sync_status", result.SyncStatus).Msg("[TaskQueue] Manual sync finished")
			return nil
		case TaskTypeSyncSweep:
			_, err := o.RunSweep(ctx, task.SweepKind)
			return err
		}
		return fmt.Errorf("unknown task type %q", task.Type)
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// Try to get queue info to verify connection
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *SyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(task.Type, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(1),
		asynq.TaskID(task.DedupKey()),
	)
	if err != nil {
		return acceptDuplicate(task, err)
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, type=%s, queue=%s", info.ID, task.Type, info.Queue)
	return nil
}

// acceptDuplicate treats a request for a target that is already queued as
// accepted.
func acceptDuplicate(task *SyncTask, err error) error {
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Infof("[AsyncQueue] Task %s already queued, request %s merged", task.DedupKey(), task.TaskID)
		return nil
	}
	return err
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue in-process, one goroutine per task.
type SyncQueue struct {
	processor TaskProcessor
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor TaskProcessor) {
	q.processor = processor
}

// Enqueue processes the task in the background so the request returns immediately.
func (q *SyncQueue) Enqueue(task *SyncTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, task %s dropped", task.TaskID)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), task); err != nil {
			logger.Warnf("[SyncQueue] Task %s (%s) failed: %v", task.TaskID, task.Type, err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for tasks already started.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
