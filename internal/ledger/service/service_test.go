package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditline/internal/ledger/repository"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	userrepository "github.com/smallbiznis/creditline/internal/user/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    clk,
		Repo:     ledgerrepository.Provide(),
		UserRepo: userrepository.Provide(),
	})

	dbtest.SeedTenant(t, conn, "t1")
	dbtest.SeedTier(t, conn, "basic", 1000)
	return svc, conn, clk
}

func countTransactions(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&ledgerdomain.Transaction{}).Count(&n).Error)
	return n
}

func TestDeductRecordsBalanceSnapshot(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 100))

	txn, err := svc.Deduct(context.Background(), ledgerdomain.DeductRequest{
		UserID:        "u1",
		Credits:       250,
		UsageRecordID: "trace-1",
		FlowID:        "flow-1",
	})
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.TransactionTypeDeduction, txn.TransactionType)
	require.Equal(t, int64(900), txn.CreditsBefore)
	require.Equal(t, int64(650), txn.CreditsAfter)
	require.Equal(t, ledgerdomain.SourceLLMExecution, txn.TransactionMetadata["source"])

	user := dbtest.ReloadUser(t, conn, "u1")
	require.Equal(t, int64(350), user.CreditsUsed)
	require.Equal(t, int64(1000), user.CreditsAllocated)
}

func TestDeductRejectsInsufficientCredits(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 100, 95))

	_, err := svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "u1", Credits: 10})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)

	var insufficient *ledgerdomain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(10), insufficient.Required)
	require.Equal(t, int64(5), insufficient.Available)

	require.Equal(t, int64(95), dbtest.ReloadUser(t, conn, "u1").CreditsUsed)
	require.Zero(t, countTransactions(t, conn))
}

func TestDeductChargesUsageRecordOnce(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	req := ledgerdomain.DeductRequest{UserID: "u1", Credits: 40, UsageRecordID: "trace-dup"}
	_, err := svc.Deduct(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Deduct(context.Background(), req)
	require.ErrorIs(t, err, ledgerdomain.ErrDuplicateUsageRecord)

	require.Equal(t, int64(40), dbtest.ReloadUser(t, conn, "u1").CreditsUsed)
	require.Equal(t, int64(1), countTransactions(t, conn))
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

type loggingUserRepo struct {
	userdomain.Repository
	log *callLog
}

func (r loggingUserRepo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*userdomain.User, error) {
	r.log.add("lock_user")
	return r.Repository.FindByIDForUpdate(ctx, db, id)
}

type loggingLedgerRepo struct {
	ledgerdomain.Repository
	log *callLog
}

func (r loggingLedgerRepo) FindDeductionByUsageRecord(ctx context.Context, db *gorm.DB, usageRecordID string) (*ledgerdomain.Transaction, error) {
	r.log.add("find_deduction")
	return r.Repository.FindDeductionByUsageRecord(ctx, db, usageRecordID)
}

func TestDeductChecksUsageRecordUnderUserLock(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedTenant(t, conn, "t1")
	dbtest.SeedTier(t, conn, "basic", 1000)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	log := &callLog{}
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		Repo:     loggingLedgerRepo{Repository: ledgerrepository.Provide(), log: log},
		UserRepo: loggingUserRepo{Repository: userrepository.Provide(), log: log},
	})

	_, err := svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "u1", Credits: 5, UsageRecordID: "trace-lock"})
	require.NoError(t, err)
	require.Equal(t, []string{"lock_user", "find_deduction"}, log.calls)
}

func TestConcurrentDeductsOfOneUsageRecordChargeOnce(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "u1", Credits: 10, UsageRecordID: "trace-race"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ledgerdomain.ErrDuplicateUsageRecord)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(10), dbtest.ReloadUser(t, conn, "u1").CreditsUsed)
	require.Equal(t, int64(1), countTransactions(t, conn))

	found, err := svc.FindDeduction(context.Background(), "trace-race")
	require.NoError(t, err)
	require.NotNil(t, found)
	missing, err := svc.FindDeduction(context.Background(), "trace-none")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeductValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "", Credits: 1})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidUserID)

	_, err = svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "u1", Credits: 0})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)

	_, err = svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "missing", Credits: 1})
	require.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func TestAddIncreasesAllocation(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 100, 100))

	txn, err := svc.Add(context.Background(), ledgerdomain.AddRequest{
		UserID:  "u1",
		Credits: 500,
		Reason:  "goodwill",
	})
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.TransactionTypeAddition, txn.TransactionType)
	require.Equal(t, int64(0), txn.CreditsBefore)
	require.Equal(t, int64(500), txn.CreditsAfter)
	require.Equal(t, ledgerdomain.SourceManual, txn.TransactionMetadata["source"])
	require.Equal(t, "goodwill", txn.TransactionMetadata["reason"])

	user := dbtest.ReloadUser(t, conn, "u1")
	require.Equal(t, int64(600), user.CreditsAllocated)
	require.Equal(t, int64(100), user.CreditsUsed)
}

func TestRefundIsCappedAtCreditsUsed(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 30))

	txn, err := svc.Refund(context.Background(), ledgerdomain.RefundRequest{
		UserID:  "u1",
		Credits: 100,
		Reason:  "failed run",
	})
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.TransactionTypeRefund, txn.TransactionType)
	require.Equal(t, int64(30), txn.CreditsAmount)
	require.Equal(t, int64(970), txn.CreditsBefore)
	require.Equal(t, int64(1000), txn.CreditsAfter)

	user := dbtest.ReloadUser(t, conn, "u1")
	require.Zero(t, user.CreditsUsed)
	require.Equal(t, user.CreditsAllocated, user.RemainingCredits())
}

func TestRefundWithNothingUsedWritesNoTransaction(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	_, err := svc.Refund(context.Background(), ledgerdomain.RefundRequest{UserID: "u1", Credits: 50})
	require.ErrorIs(t, err, ledgerdomain.ErrNothingToRefund)

	var count int64
	require.NoError(t, conn.Model(&ledgerdomain.Transaction{}).Where("user_id = ?", "u1").Count(&count).Error)
	require.Zero(t, count)
	require.Zero(t, dbtest.ReloadUser(t, conn, "u1").CreditsUsed)
}

func TestGetBalance(t *testing.T) {
	svc, conn, _ := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 250))

	balance, err := svc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance.Allocated)
	require.Equal(t, int64(250), balance.Used)
	require.Equal(t, int64(750), balance.Remaining)
	require.Equal(t, "t1", balance.TenantID)
}

func TestListTransactionsPagesNewestFirst(t *testing.T) {
	svc, conn, clk := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	for i := 0; i < 3; i++ {
		_, err := svc.Deduct(context.Background(), ledgerdomain.DeductRequest{UserID: "u1", Credits: int64(i + 1)})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	_, err := svc.Add(context.Background(), ledgerdomain.AddRequest{UserID: "u1", Credits: 10})
	require.NoError(t, err)

	first, err := svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{
		UserID:   "u1",
		Type:     "deduction",
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)
	require.Equal(t, int64(3), first.Transactions[0].CreditsAmount)
	require.Equal(t, int64(2), first.Transactions[1].CreditsAmount)

	second, err := svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{
		UserID:    "u1",
		Type:      "deduction",
		PageSize:  2,
		PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	require.False(t, second.HasMore)
	require.Equal(t, int64(1), second.Transactions[0].CreditsAmount)
}

func TestListTransactionsRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidUserID)

	_, err = svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{UserID: "u1", Type: "bogus"})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidTransactionType)

	_, err = svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{UserID: "u1", PageToken: "%%%"})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}

func TestTrimTransactionsKeepsNewest(t *testing.T) {
	svc, conn, clk := newTestService(t)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 0))

	for i := 0; i < 5; i++ {
		_, err := svc.Add(context.Background(), ledgerdomain.AddRequest{UserID: "u1", Credits: int64(i + 1)})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	deleted, err := svc.TrimTransactions(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
	require.Equal(t, int64(2), countTransactions(t, conn))

	deleted, err = svc.TrimTransactions(context.Background(), 2)
	require.NoError(t, err)
	require.Zero(t, deleted)
}
