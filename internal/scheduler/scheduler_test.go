package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditline/internal/authorization"
	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type subscriptionStub struct {
	subscriptiondomain.Service

	mu        sync.Mutex
	subs      map[string]*subscriptiondomain.Subscription
	renewErrs map[string]error
	renewals  map[string]int
	onRenew   func(id string)
}

func newSubscriptionStub(subs ...subscriptiondomain.Subscription) *subscriptionStub {
	stub := &subscriptionStub{
		subs:      make(map[string]*subscriptiondomain.Subscription),
		renewErrs: make(map[string]error),
		renewals:  make(map[string]int),
	}
	for i := range subs {
		sub := subs[i]
		stub.subs[sub.ID] = &sub
	}
	return stub
}

func (s *subscriptionStub) ListDueForRenewal(_ context.Context, at time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []subscriptiondomain.Subscription
	for _, sub := range s.subs {
		if sub.Status == subscriptiondomain.SubscriptionStatusActive && !sub.RenewalDate.After(at) {
			due = append(due, *sub)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RenewalDate.Equal(due[j].RenewalDate) {
			return due[i].ID < due[j].ID
		}
		return due[i].RenewalDate.Before(due[j].RenewalDate)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *subscriptionStub) Renew(_ context.Context, id string) (*subscriptiondomain.RenewResult, error) {
	if s.onRenew != nil {
		s.onRenew(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewals[id]++
	if err := s.renewErrs[id]; err != nil {
		return nil, err
	}
	sub := s.subs[id]
	sub.RenewalDate = sub.RenewalDate.Add(subscriptiondomain.BillingPeriod)
	copied := *sub
	return &subscriptiondomain.RenewResult{Subscription: &copied, UsersToppedUp: 1, CreditsAdded: 100}, nil
}

func (s *subscriptionStub) renewCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewals[id]
}

type ledgerStub struct {
	ledgerdomain.Service

	keeps   []int64
	deleted int64
	err     error
}

func (l *ledgerStub) TrimTransactions(_ context.Context, keep int64) (int64, error) {
	l.keeps = append(l.keeps, keep)
	return l.deleted, l.err
}

type authzStub struct {
	err   error
	calls int
}

func (a *authzStub) Authorize(_ context.Context, actor, tenantID, object, action string) error {
	a.calls++
	return a.err
}

func dueSubscription(id string, renewal time.Time) subscriptiondomain.Subscription {
	return subscriptiondomain.Subscription{
		ID:          id,
		TenantID:    "tenant-" + id,
		TierID:      "basic",
		Status:      subscriptiondomain.SubscriptionStatusActive,
		RenewalDate: renewal,
	}
}

func useTestMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "creditline", Environment: "test"})
	return registry
}

func newTestScheduler(t *testing.T, subs *subscriptionStub, ledger *ledgerStub, cfg Config, opts ...func(*Params)) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	p := Params{
		Log:             zap.NewNop(),
		Clock:           clock.NewFakeClock(now),
		GenID:           node,
		SubscriptionSvc: subs,
		LedgerSvc:       ledger,
		Config:          cfg,
	}
	for _, opt := range opts {
		opt(&p)
	}
	sched, err := New(p)
	require.NoError(t, err)
	return sched
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestMetrics(t)
	s := newTestScheduler(t, newSubscriptionStub(), &ledgerStub{}, Config{})

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "creditline", "env": "test", "job": "timeout_job"}
	require.Equal(t, float64(1), getCounterValue(t, registry, "creditline_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "creditline",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	require.Equal(t, float64(1), getCounterValue(t, registry, "creditline_scheduler_job_errors_total", errorLabels))
}

func TestRenewalJobCatchesUpInBatches(t *testing.T) {
	useTestMetrics(t)
	subs := newSubscriptionStub(
		dueSubscription("a", now.Add(-time.Hour)),
		dueSubscription("b", now.Add(-time.Hour)),
		dueSubscription("c", now.Add(-subscriptiondomain.BillingPeriod-time.Hour)),
		dueSubscription("later", now.Add(time.Hour)),
	)
	s := newTestScheduler(t, subs, &ledgerStub{}, Config{BatchSize: 2})

	require.NoError(t, s.RenewalJob(context.Background()))
	require.Equal(t, 1, subs.renewCount("a"))
	require.Equal(t, 1, subs.renewCount("b"))
	require.Equal(t, 2, subs.renewCount("c"))
	require.Zero(t, subs.renewCount("later"))

	due, err := subs.ListDueForRenewal(context.Background(), now, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestRenewalJobSkipsFailuresAndReportsThem(t *testing.T) {
	useTestMetrics(t)
	boom := errors.New("boom")
	subs := newSubscriptionStub(
		dueSubscription("bad", now.Add(-2*time.Hour)),
		dueSubscription("good", now.Add(-90*time.Minute)),
		dueSubscription("gone", now.Add(-time.Hour)),
	)
	subs.renewErrs["bad"] = boom
	subs.renewErrs["gone"] = subscriptiondomain.ErrSubscriptionNotActive
	s := newTestScheduler(t, subs, &ledgerStub{}, Config{BatchSize: 2})

	err := s.RenewalJob(context.Background())
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotActive)
	require.Equal(t, 1, subs.renewCount("bad"))
	require.Equal(t, 1, subs.renewCount("good"))
	require.Equal(t, 1, subs.renewCount("gone"))
}

func TestRenewalJobDefersRetryableFailures(t *testing.T) {
	useTestMetrics(t)
	subs := newSubscriptionStub(
		dueSubscription("flaky", now.Add(-2*time.Hour)),
		dueSubscription("good", now.Add(-time.Hour)),
	)
	subs.renewErrs["flaky"] = &pgconn.PgError{Code: "40001"}
	s := newTestScheduler(t, subs, &ledgerStub{}, Config{BatchSize: 2})

	require.NoError(t, s.RenewalJob(context.Background()))
	require.Equal(t, 1, subs.renewCount("good"))
	require.Equal(t, 2, subs.renewCount("flaky"))

	due, err := subs.ListDueForRenewal(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "flaky", due[0].ID)
}

func TestRenewalJobRequiresSystemAuthorization(t *testing.T) {
	useTestMetrics(t)
	subs := newSubscriptionStub(dueSubscription("a", now.Add(-time.Hour)))
	authz := &authzStub{err: authorization.ErrForbidden}
	s := newTestScheduler(t, subs, &ledgerStub{}, Config{}, func(p *Params) { p.AuthzSvc = authz })

	err := s.RenewalJob(context.Background())
	require.ErrorIs(t, err, authorization.ErrForbidden)
	require.Equal(t, obsmetrics.SchedulerErrorTypeAuthorization, obsmetrics.ClassifySchedulerErrorType(err))
	require.Zero(t, subs.renewCount("a"))
	require.Equal(t, 1, authz.calls)
}

func TestRetentionJob(t *testing.T) {
	useTestMetrics(t)
	ledger := &ledgerStub{deleted: 7}
	s := newTestScheduler(t, newSubscriptionStub(), ledger, Config{RetentionMaxRows: 1000})

	require.NoError(t, s.RetentionJob(context.Background()))
	require.Equal(t, []int64{1000}, ledger.keeps)

	ledger.err = errors.New("trim failed")
	require.Error(t, s.RetentionJob(context.Background()))

	disabled := &ledgerStub{}
	s = newTestScheduler(t, newSubscriptionStub(), disabled, Config{})
	require.NoError(t, s.RetentionJob(context.Background()))
	require.Empty(t, disabled.keeps)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	useTestMetrics(t)
	subs := newSubscriptionStub(dueSubscription("a", now.Add(-time.Hour)))
	ledger := &ledgerStub{}
	s := newTestScheduler(t, subs, ledger, Config{
		RetentionMaxRows: 10,
		EnabledJobs:      []string{"TRANSACTION_RETENTION"},
	})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Zero(t, subs.renewCount("a"))
	require.Equal(t, []int64{10}, ledger.keeps)
}

func TestRunOnceRequiresLeaderLease(t *testing.T) {
	useTestMetrics(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	subs := newSubscriptionStub(dueSubscription("a", now.Add(-time.Hour)))
	s := newTestScheduler(t, subs, &ledgerStub{}, Config{}, func(p *Params) { p.Locker = locker })

	token, ok, err := locker.TryLock(context.Background(), leaderLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RunOnce(context.Background()))
	require.Zero(t, subs.renewCount("a"))

	require.NoError(t, locker.Release(context.Background(), leaderLockKey, token))
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 1, subs.renewCount("a"))
	require.False(t, mr.Exists(leaderLockKey))
}

func TestRunOnceStopsWhenLeaderLeaseLost(t *testing.T) {
	useTestMetrics(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	subs := newSubscriptionStub(dueSubscription("a", now.Add(-time.Hour)))
	subs.onRenew = func(string) {
		require.NoError(t, mr.Set(leaderLockKey, "other-replica"))
	}
	ledger := &ledgerStub{}
	s := newTestScheduler(t, subs, ledger, Config{RetentionMaxRows: 10}, func(p *Params) {
		p.Locker = ratelimit.NewLocker(client)
	})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 1, subs.renewCount("a"))
	require.Empty(t, ledger.keeps)

	owner, err := mr.Get(leaderLockKey)
	require.NoError(t, err)
	require.Equal(t, "other-replica", owner)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
