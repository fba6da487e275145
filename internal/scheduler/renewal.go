package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/creditline/internal/authorization"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/scheduler/guard"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"go.uber.org/zap"
)

// RenewalJob renews active subscriptions whose renewal date has passed, in
// batches of cfg.BatchSize. A subscription several periods behind advances
// one period per renewal and is picked up again by the next batch.
func (s *Scheduler) RenewalJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSubscriptionRenewal, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	var errs error
	skipped := make(map[string]struct{})
	for batch := 0; batch < s.cfg.MaxRenewalBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}

		now := s.clock.Now()
		limit := s.cfg.BatchSize + len(skipped)
		due, err := s.fetchDueSubscriptions(ctx, now, limit)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.renewal.fetch_failed", JobSubscriptionRenewal, "", err)
			return errors.Join(errs, err)
		}

		renewed := 0
		for _, subscription := range due {
			if _, ok := skipped[subscription.ID]; ok {
				continue
			}
			if err := s.renewOne(ctx, run, subscription); err != nil {
				if db.IsRetryable(err) {
					// Left due; the next batch or tick retries it.
					schedMetrics.IncBatchDeferred(JobSubscriptionRenewal, obsmetrics.SchedulerBatchDeferredReasonRetryable)
					continue
				}
				skipped[subscription.ID] = struct{}{}
				if !errors.Is(err, guard.ErrRenewalNotDue) && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotActive) {
					errs = errors.Join(errs, err)
				}
				continue
			}
			renewed++
		}
		schedMetrics.AddBatchProcessed(JobSubscriptionRenewal, "subscriptions", renewed)

		if renewed == 0 || len(due) < limit {
			break
		}
	}
	return errs
}

func (s *Scheduler) renewOne(ctx context.Context, run *jobRun, subscription subscriptiondomain.Subscription) error {
	if err := guard.EnsureSubscriptionCanRenew(subscription.Status, subscription.RenewalDate, s.clock.Now()); err != nil {
		return err
	}
	if err := s.authorizeSystem(ctx, subscription.TenantID, authorization.ObjectSubscription, authorization.ActionSubscriptionRenew); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.renewal.forbidden", JobSubscriptionRenewal, subscription.TenantID, err,
			zap.String("subscription_id", subscription.ID),
		)
		return err
	}

	result, err := s.subscriptionSvc.Renew(ctx, subscription.ID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotActive) {
			// Cancelled between listing and renewal.
			return err
		}
		s.logSchedulerError(ctx, run, "scheduler.renewal.failed", JobSubscriptionRenewal, subscription.TenantID, err,
			zap.String("subscription_id", subscription.ID),
		)
		return err
	}
	run.AddProcessed(1)
	s.logSubscriptionRenewed(ctx, subscription, result)
	return nil
}
