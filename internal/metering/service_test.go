package metering

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/config"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditline/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/creditline/internal/ledger/service"
	tierrepository "github.com/smallbiznis/creditline/internal/licensetier/repository"
	tierservice "github.com/smallbiznis/creditline/internal/licensetier/service"
	"github.com/smallbiznis/creditline/internal/ratelimit"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	userrepository "github.com/smallbiznis/creditline/internal/user/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type finalizeFixture struct {
	svc    *Service
	ledger ledgerdomain.Service
	db     *gorm.DB
}

func newFinalizeFixture(t *testing.T, locker *ratelimit.Locker) *finalizeFixture {
	t.Helper()
	conn := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	userRepo := userrepository.Provide()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      log,
		Clock:    clk,
		Repo:     ledgerrepository.Provide(),
		UserRepo: userRepo,
	})
	tierSvc := tierservice.NewService(tierservice.Params{
		DB:    conn,
		Log:   log,
		Clock: clk,
		Repo:  tierrepository.Provide(),
	})
	svc := NewService(Params{
		DB:        conn,
		Log:       log,
		Clock:     clk,
		Config:    config.Config{},
		Engine:    testEngine(),
		UserRepo:  userRepo,
		TierSvc:   tierSvc,
		LedgerSvc: ledgerSvc,
		Locker:    locker,
	})

	dbtest.SeedTenant(t, conn, "t1")
	dbtest.SeedTier(t, conn, "basic", 1000)
	return &finalizeFixture{svc: svc, ledger: ledgerSvc, db: conn}
}

func (f *finalizeFixture) accumulate(t *testing.T, traceID string, calls ...ProviderResponse) *Accumulator {
	t.Helper()
	acc := f.svc.NewAccumulator(ExecutionContext{UserID: "u1", TenantID: "t1", FlowID: "flow-1", TraceID: traceID})
	for _, call := range calls {
		_, err := f.svc.RecordCall(context.Background(), acc, call)
		require.NoError(t, err)
	}
	return acc
}

func TestFinalizeDeductsOnce(t *testing.T) {
	f := newFinalizeFixture(t, nil)
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))
	acc := f.accumulate(t, "trace-1", openAICall("gpt-4", 1000, 500))

	result, err := f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.NoError(t, err)
	require.Equal(t, ReasonDeducted, result.Reason)
	require.Equal(t, int64(6), result.CreditsDeducted)
	require.Equal(t, int64(1000), result.CreditsBefore)
	require.Equal(t, int64(994), result.CreditsAfter)
	require.Equal(t, "trace-1", result.UsageRecordID)
	require.Equal(t, StateSettled, acc.State())

	_, err = f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
	require.Equal(t, int64(6), dbtest.ReloadUser(t, f.db, "u1").CreditsUsed)

	var txn ledgerdomain.Transaction
	require.NoError(t, f.db.First(&txn, "usage_record_id = ?", "trace-1").Error)
	require.Equal(t, "flow-1", *txn.FlowID)
	require.Equal(t, ledgerdomain.SourceLLMExecution, txn.TransactionMetadata["source"])
	require.Equal(t, int64(1), dbtest.JSONInt(t, txn.TransactionMetadata["llm_calls_count"]))
}

func TestFinalizeSameTraceFromSecondAccumulator(t *testing.T) {
	f := newFinalizeFixture(t, nil)
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	first := f.accumulate(t, "trace-dup", openAICall("gpt-4", 1000, 500))
	second := f.accumulate(t, "trace-dup", openAICall("gpt-4", 1000, 500))

	_, err := f.svc.FinalizeAndDeduct(context.Background(), first)
	require.NoError(t, err)
	_, err = f.svc.FinalizeAndDeduct(context.Background(), second)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
	require.Equal(t, StateSettled, second.State())
	require.Equal(t, int64(6), dbtest.ReloadUser(t, f.db, "u1").CreditsUsed)
}

func TestFinalizeInsufficientCreditsCanBeRetried(t *testing.T) {
	f := newFinalizeFixture(t, nil)
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "basic", 3, 0))
	acc := f.accumulate(t, "trace-short", openAICall("gpt-4", 1000, 500))

	_, err := f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	require.Equal(t, StateFailed, acc.State())
	require.Equal(t, 1, acc.Snapshot().CallCount)
	require.Zero(t, dbtest.ReloadUser(t, f.db, "u1").CreditsUsed)

	_, err = f.ledger.Add(context.Background(), ledgerdomain.AddRequest{UserID: "u1", Credits: 10})
	require.NoError(t, err)

	result, err := f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.NoError(t, err)
	require.Equal(t, int64(6), result.CreditsDeducted)
	require.Equal(t, int64(7), result.CreditsAfter)
}

func TestFinalizeSkips(t *testing.T) {
	f := newFinalizeFixture(t, nil)
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	result, err := f.svc.FinalizeAndDeduct(context.Background(), f.accumulate(t, "empty"))
	require.NoError(t, err)
	require.Equal(t, ReasonNoCost, result.Reason)

	require.NoError(t, f.db.Exec(`UPDATE users SET is_platform_superadmin = ? WHERE id = ?`, true, "u1").Error)
	result, err = f.svc.FinalizeAndDeduct(context.Background(), f.accumulate(t, "admin", openAICall("gpt-4", 1000, 0)))
	require.NoError(t, err)
	require.Equal(t, ReasonSuperadmin, result.Reason)

	require.NoError(t, f.db.Exec(`UPDATE users SET is_platform_superadmin = ?, license_is_active = ? WHERE id = ?`, false, false, "u1").Error)
	result, err = f.svc.FinalizeAndDeduct(context.Background(), f.accumulate(t, "unlicensed", openAICall("gpt-4", 1000, 0)))
	require.NoError(t, err)
	require.Equal(t, ReasonNoLicense, result.Reason)

	require.Zero(t, dbtest.ReloadUser(t, f.db, "u1").CreditsUsed)
}

func TestFinalizeChargesAtLeastOneCreditForTokens(t *testing.T) {
	f := newFinalizeFixture(t, nil)
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	result, err := f.svc.FinalizeAndDeduct(context.Background(), f.accumulate(t, "tiny", openAICall("gpt-4o-mini", 10, 10)))
	require.NoError(t, err)
	require.Equal(t, ReasonDeducted, result.Reason)
	require.Equal(t, int64(1), result.CreditsDeducted)
}

func TestFinalizeUnknownUserFails(t *testing.T) {
	f := newFinalizeFixture(t, nil)
	acc := f.accumulate(t, "ghost", openAICall("gpt-4", 1000, 0))

	_, err := f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.ErrorIs(t, err, userdomain.ErrUserNotFound)
	require.Equal(t, StateFailed, acc.State())

	_, err = f.svc.FinalizeAndDeduct(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidExecution)
}

func TestFinalizeHonorsDistributedLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newFinalizeFixture(t, ratelimit.NewLocker(client))
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))
	acc := f.accumulate(t, "trace-lock", openAICall("gpt-4", 1000, 500))

	require.NoError(t, mr.Set(finalizeLockPrefix+"trace-lock", "other-instance"))
	_, err = f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.ErrorIs(t, err, ErrFinalizeInProgress)
	require.Equal(t, StateOpen, acc.State())

	mr.Del(finalizeLockPrefix + "trace-lock")
	result, err := f.svc.FinalizeAndDeduct(context.Background(), acc)
	require.NoError(t, err)
	require.Equal(t, int64(6), result.CreditsDeducted)
	require.False(t, mr.Exists(finalizeLockPrefix+"trace-lock"))
}
