package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xmlangel/testcasecraft-sub009/internal/config"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// Sweep kinds
const (
	SweepPending = "pending"
	SweepRetry   = "retry"
	SweepTimeout = "timeout"
)

// ErrSyncInFlight is returned when an edit targets a record that a sweep has claimed.
var ErrSyncInFlight = errors.New("sync in progress for this result")

type SyncOptions struct {
	BatchSize     int
	MaxConcurrent int
	RetryAfter    time.Duration
	Timeout       time.Duration
	CallTimeout   time.Duration
	SweepBudget   time.Duration
	// UseSharedConfig lets records without an executor sync with the shared config.
	UseSharedConfig bool
}

func SyncOptionsFromConfig(cfg *config.SyncConfig) SyncOptions {
	return SyncOptions{
		BatchSize:       cfg.BatchSize,
		MaxConcurrent:   cfg.MaxConcurrent,
		RetryAfter:      cfg.RetryAfter,
		Timeout:         cfg.Timeout,
		CallTimeout:     cfg.CallTimeout,
		SweepBudget:     cfg.SweepBudget,
		UseSharedConfig: cfg.UseSharedConfig,
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	SweepID   string `json:"sweep_id"`
	Kind      string `json:"kind"`
	Claimed   int    `json:"claimed"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`   // not claimable, superseded, or not dispatched before the budget ran out
	Abandoned int    `json:"abandoned"` // left IN_PROGRESS for the timeout sweep
	Recovered int    `json:"recovered"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeFailed
	outcomeAbandoned
)

// SyncOrchestrator moves test results through
// NOT_SYNCED -> IN_PROGRESS -> SYNCED | FAILED, posting each outcome as a
// comment on the linked issue. Every transition is a conditional single-row
// update, so the IN_PROGRESS status is the per-record lock. Comment posts
// from sweeps, manual retries and execution summaries share one limit of
// MaxConcurrent calls.
type SyncOrchestrator struct {
	db     *gorm.DB
	creds  *CredentialResolver
	client tracker.Client
	opts   SyncOptions
	calls  *semaphore.Weighted
	now    func() time.Time
}

func NewSyncOrchestrator(db *gorm.DB, creds *CredentialResolver, client tracker.Client, opts SyncOptions) *SyncOrchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	return &SyncOrchestrator{
		db:     db,
		creds:  creds,
		client: client,
		opts:   opts,
		calls:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		now:    time.Now,
	}
}

// linked restricts a query to results that reference an issue.
func linked(db *gorm.DB) *gorm.DB {
	return db.Where("issue_key IS NOT NULL AND issue_key <> ''")
}

// SyncPending attempts results that have never been synced.
func (s *SyncOrchestrator) SyncPending(ctx context.Context) (*SweepResult, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Scopes(linked).
		Where("sync_status = ?", models.SyncStatusNotSynced).
		Order("id ASC").
		Limit(s.opts.BatchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load pending results: %w", err)
	}
	return s.runSweep(ctx, SweepPending, ids, models.SyncStatusNotSynced), nil
}

// RetryFailed re-attempts failed results whose last attempt is older than the
// retry window, oldest first.
func (s *SyncOrchestrator) RetryFailed(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().Add(-s.opts.RetryAfter)
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Scopes(linked).
		Where("sync_status = ?", models.SyncStatusFailed).
		Where("last_sync_at IS NULL OR last_sync_at < ?", cutoff).
		Order("last_sync_at ASC").Order("id ASC").
		Limit(s.opts.BatchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load failed results: %w", err)
	}
	return s.runSweep(ctx, SweepRetry, ids, models.SyncStatusFailed), nil
}

// RecoverTimedOut fails every record that has been IN_PROGRESS longer than the
// timeout. last_sync_at is reset so the record waits one retry window.
func (s *SyncOrchestrator) RecoverTimedOut(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	now := s.now()
	cutoff := now.Add(-s.opts.Timeout)
	res := &SweepResult{SweepID: uuid.NewString(), Kind: SweepTimeout}

	msg := syncerr.Summary(syncerr.Newf(syncerr.KindTransientNetwork, "", "sync timed out after %v in progress", s.opts.Timeout))
	tx := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Where("sync_status = ?", models.SyncStatusInProgress).
		Where("last_sync_at IS NULL OR last_sync_at < ?", cutoff).
		Updates(map[string]interface{}{
			"sync_status":  models.SyncStatusFailed,
			"sync_error":   msg,
			"last_sync_at": now,
		})
	if tx.Error != nil {
		return nil, fmt.Errorf("recover timed out results: %w", tx.Error)
	}

	res.Recovered = int(tx.RowsAffected)
	SyncTimeoutsRecovered.Add(float64(res.Recovered))
	SyncSweepDuration.WithLabelValues(SweepTimeout).Observe(time.Since(start).Seconds())
	if res.Recovered > 0 {
		logger.Warn().Str("sweep_id", res.SweepID).Int("recovered", res.Recovered).
			Msgf("[Sync] Reset %d results stuck in progress longer than %v", res.Recovered, s.opts.Timeout)
	}
	return res, nil
}

// RunSweep runs the named sweep.
func (s *SyncOrchestrator) RunSweep(ctx context.Context, kind string) (*SweepResult, error) {
	switch kind {
	case SweepPending:
		return s.SyncPending(ctx)
	case SweepRetry:
		return s.RetryFailed(ctx)
	case SweepTimeout:
		return s.RecoverTimedOut(ctx)
	}
	return nil, fmt.Errorf("unknown sweep kind %q", kind)
}

func (s *SyncOrchestrator) runSweep(ctx context.Context, kind string, ids []uint, from string) *SweepResult {
	start := time.Now()
	res := &SweepResult{SweepID: uuid.NewString(), Kind: kind}
	if len(ids) == 0 {
		return res
	}

	if s.opts.SweepBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SweepBudget)
		defer cancel()
	}

	log := logger.Get().With().Str("sweep_id", res.SweepID).Str("kind", kind).Logger()
	log.Info().Int("candidates", len(ids)).Msg("[Sync] Sweep started")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrent)

	for i, id := range ids {
		if ctx.Err() != nil {
			mu.Lock()
			res.Skipped += len(ids) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			o := outcomeSkipped
			if ctx.Err() == nil {
				o = s.syncOne(ctx, id, from)
			}
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeSynced:
				res.Claimed++
				res.Synced++
			case outcomeFailed:
				res.Claimed++
				res.Failed++
			case outcomeAbandoned:
				res.Claimed++
				res.Abandoned++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	SyncSweepDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	log.Info().
		Int("claimed", res.Claimed).
		Int("synced", res.Synced).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("abandoned", res.Abandoned).
		Dur("elapsed", time.Since(start)).
		Msg("[Sync] Sweep finished")
	return res
}

// claim moves a record into IN_PROGRESS if it is still in one of the from
// states and returns the claim id the outcome write must present. An empty
// claim id means the record was not claimable. This write happens before any
// network call.
func (s *SyncOrchestrator) claim(ctx context.Context, id uint, from ...string) (string, error) {
	claimID := uuid.NewString()
	tx := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Scopes(linked).
		Where("id = ? AND sync_status IN ?", id, from).
		Updates(map[string]interface{}{
			"sync_status":  models.SyncStatusInProgress,
			"sync_error":   "",
			"sync_claim":   claimID,
			"last_sync_at": s.now(),
		})
	if tx.Error != nil {
		return "", tx.Error
	}
	if tx.RowsAffected != 1 {
		return "", nil
	}
	return claimID, nil
}

func (s *SyncOrchestrator) syncOne(ctx context.Context, id uint, from ...string) outcome {
	log := logger.Get().With().Uint("result_id", id).Logger()

	claimID, err := s.claim(ctx, id, from...)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("[Sync] Failed to claim result")
		}
		return outcomeSkipped
	}
	if claimID == "" {
		log.Debug().Msg("[Sync] Result no longer claimable, skipping")
		return outcomeSkipped
	}

	// Once claimed, the outcome is always written unless the sweep itself is abandoned.
	writeCtx := context.WithoutCancel(ctx)

	var result models.TestResult
	if err := s.db.WithContext(writeCtx).Preload("TestExecution").First(&result, id).Error; err != nil {
		return s.fail(writeCtx, id, claimID, syncerr.Wrap(syncerr.KindRecordNotFound, "sync.load", err))
	}

	key := tracker.NormalizeKey(result.Key())
	if !tracker.ValidKey(key) {
		return s.fail(writeCtx, id, claimID, syncerr.Newf(syncerr.KindInvalidIssueKey, "sync", "invalid issue key %q", result.Key()))
	}

	conn, err := s.connectionFor(ctx, &result)
	if err != nil {
		if ctx.Err() != nil {
			SyncAttemptsCount.WithLabelValues("abandoned").Inc()
			return outcomeAbandoned
		}
		return s.fail(writeCtx, id, claimID, err)
	}

	execName := ""
	if result.TestExecution != nil {
		execName = result.TestExecution.Name
	}
	body := ComposeResultComment(&result, execName)

	if err := s.calls.Acquire(ctx, 1); err != nil {
		log.Warn().Str("issue_key", key).Msg("[Sync] Sweep cancelled while waiting for a tracker slot, leaving result in progress")
		SyncAttemptsCount.WithLabelValues("abandoned").Inc()
		return outcomeAbandoned
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	commentID, err := s.client.PostComment(callCtx, conn, key, body)
	cancel()
	s.calls.Release(1)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Str("issue_key", key).Msg("[Sync] Sweep cancelled mid-call, leaving result in progress")
			SyncAttemptsCount.WithLabelValues("abandoned").Inc()
			return outcomeAbandoned
		}
		log.Warn().Err(err).Str("issue_key", key).Bool("retryable", syncerr.IsRetryable(err)).Msg("[Sync] Posting result comment failed")
		return s.fail(writeCtx, id, claimID, err)
	}

	return s.succeed(writeCtx, id, claimID, key, commentID)
}

func (s *SyncOrchestrator) connectionFor(ctx context.Context, r *models.TestResult) (tracker.Connection, error) {
	if r.ExecutedBy == 0 && s.opts.UseSharedConfig {
		return s.creds.ResolveShared(ctx)
	}
	return s.creds.Resolve(ctx, r.ExecutedBy)
}

// succeed and fail only write while the record is still held by claimID. A
// record recovered by the timeout sweep and claimed again belongs to the newer
// attempt.
func (s *SyncOrchestrator) succeed(ctx context.Context, id uint, claimID, key, commentID string) outcome {
	tx := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Where("id = ? AND sync_status = ? AND sync_claim = ?", id, models.SyncStatusInProgress, claimID).
		Updates(map[string]interface{}{
			"sync_status":       models.SyncStatusSynced,
			"sync_error":        "",
			"remote_comment_id": commentID,
			"last_sync_at":      s.now(),
		})
	if tx.Error != nil {
		logger.Error().Err(tx.Error).Uint("result_id", id).Msg("[Sync] Failed to record success")
		return outcomeFailed
	}
	if tx.RowsAffected == 0 {
		logger.Warn().Uint("result_id", id).Str("comment_id", commentID).
			Msg("[Sync] Claim superseded before the comment was recorded")
		SyncAttemptsCount.WithLabelValues("superseded").Inc()
		return outcomeSkipped
	}
	SyncAttemptsCount.WithLabelValues("synced").Inc()
	logger.Info().Uint("result_id", id).Str("issue_key", key).Str("comment_id", commentID).Msg("[Sync] Result synced")
	return outcomeSynced
}

func (s *SyncOrchestrator) fail(ctx context.Context, id uint, claimID string, cause error) outcome {
	tx := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Where("id = ? AND sync_status = ? AND sync_claim = ?", id, models.SyncStatusInProgress, claimID).
		Updates(map[string]interface{}{
			"sync_status":  models.SyncStatusFailed,
			"sync_error":   syncerr.Summary(cause),
			"last_sync_at": s.now(),
		})
	if tx.Error != nil {
		logger.Error().Err(tx.Error).Uint("result_id", id).Msg("[Sync] Failed to record failure")
	} else if tx.RowsAffected == 0 {
		logger.Warn().Uint("result_id", id).Msg("[Sync] Claim superseded before the failure was recorded")
		SyncAttemptsCount.WithLabelValues("superseded").Inc()
		return outcomeSkipped
	}
	SyncAttemptsCount.WithLabelValues("failed").Inc()
	return outcomeFailed
}

// SyncRecord runs one attempt for a single result now. NOT_SYNCED and FAILED
// results are eligible; a SYNCED result needs RequestResync first.
func (s *SyncOrchestrator) SyncRecord(ctx context.Context, id uint) (*models.TestResult, error) {
	var result models.TestResult
	if err := s.db.WithContext(ctx).First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, syncerr.Newf(syncerr.KindRecordNotFound, "sync.SyncRecord", "test result %d not found", id)
		}
		return nil, err
	}
	if result.Key() == "" {
		return nil, syncerr.Newf(syncerr.KindInvalidIssueKey, "sync.SyncRecord", "test result %d is not linked to an issue", id)
	}

	s.syncOne(ctx, id, models.SyncStatusNotSynced, models.SyncStatusFailed)

	if err := s.db.WithContext(context.WithoutCancel(ctx)).First(&result, id).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// ResyncRequest selects SYNCED results to invalidate.
type ResyncRequest struct {
	ResultIDs   []uint `json:"result_ids"`
	ExecutionID uint   `json:"execution_id"`
}

// RequestResync moves SYNCED results back to NOT_SYNCED so the next pending
// sweep posts them again.
func (s *SyncOrchestrator) RequestResync(ctx context.Context, req ResyncRequest) (int64, error) {
	if len(req.ResultIDs) == 0 && req.ExecutionID == 0 {
		return 0, errors.New("result_ids or execution_id is required")
	}

	q := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Where("sync_status = ?", models.SyncStatusSynced)
	if len(req.ResultIDs) > 0 {
		q = q.Where("id IN ?", req.ResultIDs)
	}
	if req.ExecutionID != 0 {
		q = q.Where("test_execution_id = ?", req.ExecutionID)
	}
	tx := q.Updates(map[string]interface{}{
		"sync_status":       models.SyncStatusNotSynced,
		"remote_comment_id": "",
	})
	if tx.Error != nil {
		return 0, tx.Error
	}
	logger.Info().Int64("count", tx.RowsAffected).Msg("[Sync] Resync requested")
	return tx.RowsAffected, nil
}

// LinkIssue points a result at a (new) issue key. This is an edit, not a sync
// side effect, so it resets the record to NOT_SYNCED.
func (s *SyncOrchestrator) LinkIssue(ctx context.Context, id uint, key string) (*models.TestResult, error) {
	const op = "sync.LinkIssue"
	key = tracker.NormalizeKey(key)
	if !tracker.ValidKey(key) {
		return nil, syncerr.Newf(syncerr.KindInvalidIssueKey, op, "invalid issue key %q", key)
	}

	tx := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Where("id = ? AND sync_status <> ?", id, models.SyncStatusInProgress).
		Updates(map[string]interface{}{
			"issue_key":         key,
			"sync_status":       models.SyncStatusNotSynced,
			"sync_error":        "",
			"remote_comment_id": "",
			"last_sync_at":      nil,
		})
	if tx.Error != nil {
		return nil, tx.Error
	}

	var result models.TestResult
	if err := s.db.WithContext(ctx).First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, syncerr.Newf(syncerr.KindRecordNotFound, op, "test result %d not found", id)
		}
		return nil, err
	}
	if tx.RowsAffected == 0 {
		return nil, ErrSyncInFlight
	}
	return &result, nil
}

// PostExecutionSummary posts the outcome distribution of an execution's results
// for one issue, using the acting user's own connection.
func (s *SyncOrchestrator) PostExecutionSummary(ctx context.Context, userID, executionID uint, key string) (string, error) {
	const op = "sync.PostExecutionSummary"
	key = tracker.NormalizeKey(key)
	if !tracker.ValidKey(key) {
		return "", syncerr.Newf(syncerr.KindInvalidIssueKey, op, "invalid issue key %q", key)
	}

	var execution models.TestExecution
	if err := s.db.WithContext(ctx).First(&execution, executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", syncerr.Newf(syncerr.KindRecordNotFound, op, "test execution %d not found", executionID)
		}
		return "", err
	}

	var results []models.TestResult
	if err := s.db.WithContext(ctx).
		Where("test_execution_id = ? AND UPPER(issue_key) = ?", executionID, key).
		Order("id ASC").
		Find(&results).Error; err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", syncerr.Newf(syncerr.KindRecordNotFound, op, "no results of execution %d reference %s", executionID, key)
	}

	conn, err := s.creds.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	body := ComposeExecutionSummary(execution.Name, results)
	var failures []models.TestResult
	for _, r := range results {
		if r.Result == models.ResultFail {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		body += "\n" + ComposeFailureNotice(execution.Name, failures)
	}

	if err := s.calls.Acquire(ctx, 1); err != nil {
		return "", syncerr.Wrap(syncerr.KindTransientNetwork, op, err)
	}
	defer s.calls.Release(1)
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	commentID, err := s.client.PostComment(callCtx, conn, key, body)
	if err != nil {
		return "", err
	}
	logger.Info().Uint("execution_id", executionID).Str("issue_key", key).Str("comment_id", commentID).
		Msg("[Sync] Execution summary posted")
	return commentID, nil
}

// Stats counts linked results per sync status and refreshes the status gauges.
func (s *SyncOrchestrator) Stats(ctx context.Context) (map[string]int64, error) {
	type row struct {
		SyncStatus string
		Count      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.TestResult{}).
		Scopes(linked).
		Select("sync_status, COUNT(*) AS count").
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(models.AllSyncStatuses))
	for _, st := range models.AllSyncStatuses {
		stats[st] = 0
	}
	for _, r := range rows {
		stats[r.SyncStatus] += r.Count
	}
	for st, n := range stats {
		SyncRecordsByStatus.WithLabelValues(st).Set(float64(n))
	}
	return stats, nil
}
