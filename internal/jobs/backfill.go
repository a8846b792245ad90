package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/logging"
)

type Reconciler interface {
	Reconcile(ctx context.Context, scope attendance.Scope) (attendance.ReconcileResult, error)
}

// StartBackfillJob schedules system-wide reconciliation on cfg.BackfillSchedule, evaluated in
// loc. Overlapping runs are skipped. The scheduler stops when ctx is done.
func StartBackfillJob(ctx context.Context, cfg config.Config, reconciler Reconciler, loc *time.Location, logger logging.Logger) (*cron.Cron, error) {
	if !cfg.BackfillJobEnabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	timeout := cfg.BackfillJobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}

	cronLog := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(cfg.BackfillSchedule, func() {
		runBackfill(ctx, reconciler, timeout, logger)
	}); err != nil {
		return nil, err
	}
	c.Start()
	logger.Info("backfill job scheduled", "schedule", cfg.BackfillSchedule, "timeout", timeout)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

func runBackfill(ctx context.Context, reconciler Reconciler, timeout time.Duration, logger logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := reconciler.Reconcile(runCtx, attendance.Scope{Actor: attendance.SystemActor(), All: true})
	if err != nil {
		logger.Error("backfill job error", "err", err)
		return
	}
	if result.RecordsCreated > 0 || result.SessionsFailed > 0 {
		logger.Info("backfill job finished",
			"processed", result.SessionsProcessed,
			"created", result.RecordsCreated,
			"failed", result.SessionsFailed,
		)
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
