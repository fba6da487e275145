package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"go.uber.org/zap"
)

// RetentionJob deletes the oldest ledger rows beyond cfg.RetentionMaxRows.
func (s *Scheduler) RetentionJob(ctx context.Context) error {
	if s.cfg.RetentionMaxRows <= 0 {
		return nil
	}
	ctx, run, owner := s.ensureJobRun(ctx, JobTransactionRetention, 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	start := time.Now()
	deleted, err := s.ledgerSvc.TrimTransactions(ctx, s.cfg.RetentionMaxRows)
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceTransactionsForTrim, time.Since(start))
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.retention.failed", JobTransactionRetention, "", err)
		return err
	}

	run.AddProcessed(int(deleted))
	schedMetrics.AddBatchProcessed(JobTransactionRetention, "transactions", int(deleted))
	if deleted > 0 {
		s.logger(ctx).Info("transactions.trimmed",
			zap.Int64("deleted", deleted),
			zap.Int64("keep", s.cfg.RetentionMaxRows),
		)
	}
	return nil
}
