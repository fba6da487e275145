package scheduler

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"go.uber.org/zap"
)

const leaderLockKey = "creditline:scheduler:leader"

// leaderLease is the redis lease held for one RunOnce. A nil locker means
// every replica leads.
type leaderLease struct {
	s     *Scheduler
	token string
}

// acquireLeadership takes the redis leader lease so only one replica runs
// jobs per tick. Without redis every replica leads; row locks inside the
// services keep concurrent renewals safe.
func (s *Scheduler) acquireLeadership(ctx context.Context) (*leaderLease, bool, error) {
	if s.locker == nil {
		return &leaderLease{s: s}, true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, leaderLockKey, s.cfg.LeaderLockTTL)
	if err != nil {
		if errors.Is(err, ratelimit.ErrLockNotConfigured) {
			return &leaderLease{s: s}, true, nil
		}
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &leaderLease{s: s, token: token}, true, nil
}

// renew extends the lease before the next job. It reports false once another
// replica owns the key.
func (l *leaderLease) renew(ctx context.Context) bool {
	if l.token == "" {
		return true
	}
	ok, err := l.s.locker.Extend(ctx, leaderLockKey, l.token, l.s.cfg.LeaderLockTTL)
	if err != nil {
		l.s.log.Warn("extend scheduler leader lease", zap.Error(err))
		return false
	}
	return ok
}

func (l *leaderLease) release() {
	if l.token == "" {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.s.locker.Release(releaseCtx, leaderLockKey, l.token); err != nil {
		l.s.log.Warn("release scheduler leader lease", zap.Error(err))
	}
}

// fetchDueSubscriptions lists subscriptions whose renewal date has passed.
func (s *Scheduler) fetchDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lockStart := time.Now()
	due, err := s.subscriptionSvc.ListDueForRenewal(claimCtx, now, limit)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceSubscriptionsDueForRenewal, time.Since(lockStart))
	return due, err
}
