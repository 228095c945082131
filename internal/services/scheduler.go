package services

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/xmlangel/testcasecraft-sub009/internal/config"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
)

// SyncScheduler runs the periodic sweeps. A job that is still running when
// its next tick fires is skipped.
type SyncScheduler struct {
	orchestrator *SyncOrchestrator
	cfg          config.SyncConfig
	cronRunner   *cron.Cron
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewSyncScheduler(orchestrator *SyncOrchestrator, cfg config.SyncConfig) *SyncScheduler {
	return &SyncScheduler{orchestrator: orchestrator, cfg: cfg}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg("[Scheduler] " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg("[Scheduler] " + msg)
}

func (s *SyncScheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cronRunner = cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	jobs := []struct {
		name string
		expr string
		run  func()
	}{
		{SweepPending, s.cfg.PendingCron, func() { s.runSweep(SweepPending) }},
		{SweepRetry, s.cfg.RetryCron, func() { s.runSweep(SweepRetry) }},
		{SweepTimeout, s.cfg.TimeoutCron, func() { s.runSweep(SweepTimeout) }},
		{"stats", s.cfg.StatsCron, s.logStats},
	}
	for _, job := range jobs {
		if job.expr == "" {
			continue
		}
		if _, err := s.cronRunner.AddFunc(job.expr, job.run); err != nil {
			s.cancel()
			return fmt.Errorf("schedule %s sweep (%q): %w", job.name, job.expr, err)
		}
		logger.Infof("[Scheduler] %s job scheduled: %s", job.name, job.expr)
	}

	s.cronRunner.Start()
	logger.Infof("[Scheduler] Started")
	return nil
}

// Stop waits for running jobs; in-flight tracker calls are cancelled and the
// records they claimed are left for the timeout sweep.
func (s *SyncScheduler) Stop() {
	if s.cronRunner == nil {
		return
	}
	done := s.cronRunner.Stop()
	s.cancel()
	<-done.Done()
	logger.Infof("[Scheduler] Stopped")
}

func (s *SyncScheduler) runSweep(kind string) {
	if _, err := s.orchestrator.RunSweep(s.ctx, kind); err != nil {
		logger.Error().Err(err).Str("kind", kind).Msg("[Scheduler] Sweep failed")
	}
}

func (s *SyncScheduler) logStats() {
	stats, err := s.orchestrator.Stats(s.ctx)
	if err != nil {
		logger.Error().Err(err).Msg("[Scheduler] Failed to collect sync statistics")
		return
	}
	logger.Info().
		Int64("not_synced", stats["NOT_SYNCED"]).
		Int64("in_progress", stats["IN_PROGRESS"]).
		Int64("synced", stats["SYNCED"]).
		Int64("failed", stats["FAILED"]).
		Msg("[Scheduler] Sync statistics")
}
