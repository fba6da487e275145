package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/creditline/internal/clock"
	creditsdomain "github.com/smallbiznis/creditline/internal/credits/domain"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditline/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/creditline/internal/ledger/service"
	tierrepository "github.com/smallbiznis/creditline/internal/licensetier/repository"
	tierservice "github.com/smallbiznis/creditline/internal/licensetier/service"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/creditline/internal/tenant/repository"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	userrepository "github.com/smallbiznis/creditline/internal/user/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    creditsdomain.Service
	ledger ledgerdomain.Service
	clock  *clock.FakeClock
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	userRepo := userrepository.Provide()
	ledgerRepo := ledgerrepository.Provide()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      log,
		Clock:    clk,
		Repo:     ledgerRepo,
		UserRepo: userRepo,
	})
	tierSvc := tierservice.NewService(tierservice.Params{
		DB:    conn,
		Log:   log,
		Clock: clk,
		Repo:  tierrepository.Provide(),
	})
	svc := NewService(Params{
		DB:         conn,
		Log:        log,
		UserRepo:   userRepo,
		TenantRepo: tenantrepository.Provide(),
		LedgerRepo: ledgerRepo,
		LedgerSvc:  ledgerSvc,
		TierSvc:    tierSvc,
	})

	dbtest.SeedTenant(t, conn, "t1")
	dbtest.SeedTier(t, conn, "pro", 5000)
	return &fixture{svc: svc, ledger: ledgerSvc, clock: clk, db: conn}
}

func TestCheckCanExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "pro", 100, 95))

	res, err := f.svc.CheckCanExecute(ctx, "u1", 0)
	require.NoError(t, err)
	require.True(t, res.CanExecute)
	require.Equal(t, int64(5), res.CreditsRemaining)
	require.Equal(t, creditsdomain.MinCreditsToStart, res.CreditsRequired)
	require.Equal(t, "pro", *res.LicenseTierID)

	res, err = f.svc.CheckCanExecute(ctx, "u1", 5)
	require.NoError(t, err)
	require.True(t, res.CanExecute)

	_, err = f.svc.CheckCanExecute(ctx, "u1", 6)
	require.ErrorIs(t, err, creditsdomain.ErrInsufficientCredits)
	var insufficient *ledgerdomain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(6), insufficient.Required)
	require.Equal(t, int64(5), insufficient.Available)
}

func TestCheckCanExecuteExhaustedBalance(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "pro", 100, 100))

	_, err := f.svc.CheckCanExecute(context.Background(), "u1", 0)
	require.ErrorIs(t, err, creditsdomain.ErrInsufficientCredits)
}

func TestCheckCanExecuteLicenseAndSuperadmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, &userdomain.User{ID: "nolicense", TenantID: "t1"})
	dbtest.SeedUser(t, f.db, &userdomain.User{ID: "root", TenantID: "t1", IsPlatformSuperadmin: true})

	_, err := f.svc.CheckCanExecute(ctx, "nolicense", 1)
	require.ErrorIs(t, err, creditsdomain.ErrNoActiveLicense)

	res, err := f.svc.CheckCanExecute(ctx, "root", 1_000_000)
	require.NoError(t, err)
	require.True(t, res.CanExecute)
	require.True(t, res.IsSuperadmin)

	_, err = f.svc.CheckCanExecute(ctx, "ghost", 1)
	require.ErrorIs(t, err, userdomain.ErrUserNotFound)
	_, err = f.svc.CheckCanExecute(ctx, " ", 1)
	require.ErrorIs(t, err, creditsdomain.ErrInvalidUserID)
}

func TestEstimateCreditsForFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "pro", 10_000, 0))

	estimate, err := f.svc.EstimateCreditsForFlow(ctx, "flow-new")
	require.NoError(t, err)
	require.Equal(t, creditsdomain.MinCreditsToStart, estimate)

	// The two oldest deductions fall outside the averaging window.
	amounts := []int64{900, 900, 10, 10, 10, 10, 10, 20, 20, 20, 20, 25}
	for i, amount := range amounts {
		f.clock.Advance(time.Second)
		_, err := f.ledger.Deduct(ctx, ledgerdomain.DeductRequest{
			UserID:        "u1",
			Credits:       amount,
			FlowID:        "flow-1",
			UsageRecordID: fmt.Sprintf("trace-%d", i),
		})
		require.NoError(t, err)
	}

	estimate, err = f.svc.EstimateCreditsForFlow(ctx, "flow-1")
	require.NoError(t, err)
	require.Equal(t, int64(15), estimate)

	_, err = f.svc.EstimateCreditsForFlow(ctx, "")
	require.ErrorIs(t, err, creditsdomain.ErrInvalidFlowID)
}

func TestGetUserCreditStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "pro", 3000, 2500))

	status, err := f.svc.GetUserCreditStatus(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(500), status.CreditsRemaining)
	require.Equal(t, 83.3, status.UsagePercent)
	require.True(t, status.IsLowCredits)
	require.False(t, status.IsOutOfCredits)
	require.True(t, status.CanExecute)
	require.NotNil(t, status.LicenseTier)
	require.Equal(t, "TIER-pro", status.LicenseTier.Name)
	require.Equal(t, float64(100), status.LicenseTier.CreditsPerUSD)
	require.Equal(t, int64(5000), status.LicenseTier.DefaultCredits)
}

func TestGetUserCreditStatusEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("out", "t1", "pro", 100, 100))
	dbtest.SeedUser(t, f.db, &userdomain.User{ID: "bare", TenantID: "t1"})
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("orphan", "t1", "deleted-tier", 100, 0))

	status, err := f.svc.GetUserCreditStatus(ctx, "out")
	require.NoError(t, err)
	require.True(t, status.IsOutOfCredits)
	require.False(t, status.CanExecute)
	require.Equal(t, float64(100), status.UsagePercent)

	status, err = f.svc.GetUserCreditStatus(ctx, "bare")
	require.NoError(t, err)
	require.Zero(t, status.UsagePercent)
	require.False(t, status.IsLowCredits)
	require.Nil(t, status.LicenseTier)
	require.False(t, status.CanExecute)

	status, err = f.svc.GetUserCreditStatus(ctx, "orphan")
	require.NoError(t, err)
	require.Nil(t, status.LicenseTier)
	require.False(t, status.IsLowCredits)
}

func TestGetTenantCreditSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "pro", 1000, 400))
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u2", "t1", "pro", 2000, 100))
	dbtest.SeedUser(t, f.db, &userdomain.User{ID: "u3", TenantID: "t1", CreditsAllocated: 999})

	summary, err := f.svc.GetTenantCreditSummary(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(3), summary.TotalUsers)
	require.Equal(t, int64(2), summary.LicensedUsers)
	require.Equal(t, int64(3000), summary.CreditsAllocated)
	require.Equal(t, int64(500), summary.CreditsUsed)
	require.Equal(t, int64(2500), summary.CreditsRemaining)

	_, err = f.svc.GetTenantCreditSummary(ctx, "missing")
	require.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
	_, err = f.svc.GetTenantCreditSummary(ctx, "")
	require.ErrorIs(t, err, creditsdomain.ErrInvalidTenantID)
}

func TestRefundDelegatesToLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedUser(t, f.db, dbtest.LicensedUser("u1", "t1", "pro", 1000, 300))

	txn, err := f.svc.Refund(ctx, ledgerdomain.RefundRequest{UserID: "u1", Credits: 50, Reason: "failed run"})
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.TransactionTypeRefund, txn.TransactionType)
	require.Equal(t, int64(250), dbtest.ReloadUser(t, f.db, "u1").CreditsUsed)
}
