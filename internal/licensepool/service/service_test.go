package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditline/internal/ledger/repository"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	licensepoolrepository "github.com/smallbiznis/creditline/internal/licensepool/repository"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	tierrepository "github.com/smallbiznis/creditline/internal/licensetier/repository"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/creditline/internal/tenant/repository"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	userrepository "github.com/smallbiznis/creditline/internal/user/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (licensepooldomain.Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc := NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
		Repo:       licensepoolrepository.Provide(),
		TenantRepo: tenantrepository.Provide(),
		TierRepo:   tierrepository.Provide(),
		UserRepo:   userrepository.Provide(),
		LedgerRepo: ledgerrepository.Provide(),
	})

	dbtest.SeedTenant(t, conn, "t1")
	dbtest.SeedTier(t, conn, "basic", 1000, func(tier *licensetierdomain.LicenseTier) {
		monthly := int64(1000)
		tier.DefaultCreditsPerMonth = &monthly
	})
	dbtest.SeedTier(t, conn, "pro", 10000)
	return svc, conn
}

func seedMember(t *testing.T, conn *gorm.DB, id string) {
	t.Helper()
	dbtest.SeedUser(t, conn, &userdomain.User{ID: id, TenantID: "t1"})
}

func loadPool(t *testing.T, conn *gorm.DB, tierID string) licensepooldomain.LicensePool {
	t.Helper()
	var pool licensepooldomain.LicensePool
	require.NoError(t, conn.First(&pool, "tenant_id = ? AND tier_id = ?", "t1", tierID).Error)
	return pool
}

func requireBalanced(t *testing.T, pool licensepooldomain.LicensePool) {
	t.Helper()
	require.Equal(t, pool.TotalCount, pool.AvailableCount+pool.AssignedCount)
	require.GreaterOrEqual(t, pool.AvailableCount, int64(0))
	require.GreaterOrEqual(t, pool.AssignedCount, int64(0))
}

func TestCreateOrUpdatePool(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	pool, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 5})
	require.NoError(t, err)
	require.Equal(t, int64(5), pool.AvailableCount)
	require.Zero(t, pool.AssignedCount)

	seedMember(t, conn, "u1")
	seedMember(t, conn, "u2")
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u2", TierID: "basic"})
	require.NoError(t, err)

	pool, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 3})
	require.NoError(t, err)
	require.Equal(t, int64(3), pool.TotalCount)
	require.Equal(t, int64(1), pool.AvailableCount)
	require.Equal(t, int64(2), pool.AssignedCount)
	requireBalanced(t, loadPool(t, conn, "basic"))

	var tenant tenantdomain.Tenant
	require.NoError(t, conn.First(&tenant, "id = ?", "t1").Error)
	entry, ok := tenant.LicensePools["basic"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, int64(1), dbtest.JSONInt(t, entry["available_count"]))
	require.Equal(t, int64(2), dbtest.JSONInt(t, entry["assigned_count"]))
}

func TestCreateOrUpdatePoolRejectsReductionBelowAssigned(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 2})
	require.NoError(t, err)
	seedMember(t, conn, "u1")
	seedMember(t, conn, "u2")
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u2", TierID: "basic"})
	require.NoError(t, err)

	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 1})
	require.ErrorIs(t, err, licensepooldomain.ErrPoolReductionBelowAssigned)

	var poolErr *licensepooldomain.PoolError
	require.True(t, errors.As(err, &poolErr))
	require.Equal(t, int64(2), poolErr.Assigned)
	require.Equal(t, int64(1), poolErr.Requested)

	pool := loadPool(t, conn, "basic")
	require.Equal(t, int64(2), pool.TotalCount)
	requireBalanced(t, pool)
}

func TestCreateOrUpdatePoolValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TierID: "basic", TotalCount: 1})
	require.ErrorIs(t, err, licensepooldomain.ErrInvalidTenantID)

	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: -1})
	require.ErrorIs(t, err, licensepooldomain.ErrInvalidTotalCount)

	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "nope", TierID: "basic", TotalCount: 1})
	require.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)

	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "nope", TotalCount: 1})
	require.ErrorIs(t, err, licensetierdomain.ErrTierNotFound)
}

func TestAssignGrantsTierCredits(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 1})
	require.NoError(t, err)
	seedMember(t, conn, "u1")

	user, err := svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic", AssignedBy: "admin"})
	require.NoError(t, err)
	require.True(t, user.LicenseIsActive)
	require.Equal(t, int64(1000), user.CreditsAllocated)
	require.Zero(t, user.CreditsUsed)

	stored := dbtest.ReloadUser(t, conn, "u1")
	require.True(t, stored.HasActiveLicense())
	require.Equal(t, "basic", *stored.LicenseTierID)
	require.Equal(t, int64(1000), *stored.CreditsPerMonth)
	require.Equal(t, "admin", *stored.LicenseAssignedBy)

	pool := loadPool(t, conn, "basic")
	require.Zero(t, pool.AvailableCount)
	require.Equal(t, int64(1), pool.AssignedCount)

	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.ErrorIs(t, err, licensepooldomain.ErrAlreadyLicensed)
}

func TestAssignRefusesWithoutCapacity(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	seedMember(t, conn, "u1")
	seedMember(t, conn, "u2")

	_, err := svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.ErrorIs(t, err, licensepooldomain.ErrPoolNotFound)

	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 1})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.NoError(t, err)

	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u2", TierID: "basic"})
	require.ErrorIs(t, err, licensepooldomain.ErrPoolExhausted)
	var poolErr *licensepooldomain.PoolError
	require.True(t, errors.As(err, &poolErr))
	require.Equal(t, int64(1), poolErr.Assigned)
	require.Zero(t, poolErr.Available)

	require.False(t, dbtest.ReloadUser(t, conn, "u2").LicenseIsActive)
}

func TestConcurrentAssignNeverOversells(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 3})
	require.NoError(t, err)
	const users = 10
	for i := 0; i < users; i++ {
		seedMember(t, conn, fmt.Sprintf("u%d", i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: id, TierID: "basic"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, licensepooldomain.ErrPoolExhausted):
				exhausted++
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	require.Equal(t, users-3, exhausted)
	pool := loadPool(t, conn, "basic")
	require.Equal(t, int64(3), pool.AssignedCount)
	requireBalanced(t, pool)
}

func TestUnassignReturnsSeatAndZeroesBalance(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 2})
	require.NoError(t, err)
	seedMember(t, conn, "u1")
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.NoError(t, err)

	user, err := svc.Unassign(ctx, "u1")
	require.NoError(t, err)
	require.False(t, user.LicenseIsActive)
	require.Nil(t, user.LicenseTierID)

	stored := dbtest.ReloadUser(t, conn, "u1")
	require.False(t, stored.HasActiveLicense())
	require.Zero(t, stored.CreditsAllocated)
	require.Zero(t, stored.CreditsUsed)

	pool := loadPool(t, conn, "basic")
	require.Equal(t, int64(2), pool.AvailableCount)
	require.Zero(t, pool.AssignedCount)

	_, err = svc.Unassign(ctx, "u1")
	require.ErrorIs(t, err, licensepooldomain.ErrNoActiveLicense)
}

// seedUpgradeCase puts u1 on a full basic pool with 1000 allocated and 200
// used, next to an open team pool whose tier grants 5000.
func seedUpgradeCase(t *testing.T, svc licensepooldomain.Service, conn *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	dbtest.SeedTier(t, conn, "team", 5000)
	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 1})
	require.NoError(t, err)
	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "team", TotalCount: 1})
	require.NoError(t, err)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", "basic", 1000, 200))
	require.NoError(t, conn.Exec(`UPDATE license_pools SET available_count = 0, assigned_count = 1 WHERE tier_id = 'basic'`).Error)
}

func TestUpgradeMovesSeatAndPreservesCredits(t *testing.T) {
	svc, conn := newTestService(t)
	seedUpgradeCase(t, svc, conn)

	user, err := svc.Upgrade(context.Background(), licensepooldomain.UpgradeRequest{UserID: "u1", NewTierID: "team", PreserveCredits: true})
	require.NoError(t, err)
	require.Equal(t, "team", *user.LicenseTierID)
	require.Equal(t, int64(5800), user.CreditsAllocated)
	require.Zero(t, user.CreditsUsed)

	basic := loadPool(t, conn, "basic")
	require.Equal(t, int64(1), basic.AvailableCount)
	requireBalanced(t, basic)
	team := loadPool(t, conn, "team")
	require.Zero(t, team.AvailableCount)
	require.Equal(t, int64(1), team.AssignedCount)
	requireBalanced(t, team)

	var txn ledgerdomain.Transaction
	require.NoError(t, conn.First(&txn, "user_id = ? AND transaction_type = ?", "u1", ledgerdomain.TransactionTypeUpgrade).Error)
	require.Equal(t, int64(800), txn.CreditsBefore)
	require.Equal(t, int64(5800), txn.CreditsAfter)
	require.Equal(t, "basic", txn.TransactionMetadata["from_tier_id"])
}

func TestUpgradeWithoutPreserveResetsToTierDefault(t *testing.T) {
	svc, conn := newTestService(t)
	seedUpgradeCase(t, svc, conn)

	user, err := svc.Upgrade(context.Background(), licensepooldomain.UpgradeRequest{UserID: "u1", NewTierID: "team"})
	require.NoError(t, err)
	require.Equal(t, "team", *user.LicenseTierID)
	require.Equal(t, int64(5000), user.CreditsAllocated)
	require.Zero(t, user.CreditsUsed)

	stored := dbtest.ReloadUser(t, conn, "u1")
	require.Equal(t, int64(5000), stored.CreditsAllocated)
	require.Zero(t, stored.CreditsUsed)
	require.Equal(t, int64(1), loadPool(t, conn, "basic").AvailableCount)

	var txns []ledgerdomain.Transaction
	require.NoError(t, conn.Where("user_id = ? AND transaction_type = ?", "u1", ledgerdomain.TransactionTypeUpgrade).Find(&txns).Error)
	require.Len(t, txns, 1)
	require.Equal(t, int64(800), txns[0].CreditsBefore)
	require.Equal(t, int64(5000), txns[0].CreditsAfter)
	require.Equal(t, int64(5000), txns[0].CreditsAmount)
}

func TestUpgradeWithoutCapacityKeepsOldSeat(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 1})
	require.NoError(t, err)
	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "pro", TotalCount: 0})
	require.NoError(t, err)
	seedMember(t, conn, "u1")
	_, err = svc.Assign(ctx, licensepooldomain.AssignRequest{UserID: "u1", TierID: "basic"})
	require.NoError(t, err)

	_, err = svc.Upgrade(ctx, licensepooldomain.UpgradeRequest{UserID: "u1", NewTierID: "pro"})
	require.ErrorIs(t, err, licensepooldomain.ErrPoolExhausted)

	stored := dbtest.ReloadUser(t, conn, "u1")
	require.Equal(t, "basic", *stored.LicenseTierID)
	basic := loadPool(t, conn, "basic")
	require.Zero(t, basic.AvailableCount)
	require.Equal(t, int64(1), basic.AssignedCount)
}

func TestGetTenantPools(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "basic", TotalCount: 2})
	require.NoError(t, err)
	_, err = svc.CreateOrUpdatePool(ctx, licensepooldomain.CreateOrUpdatePoolRequest{TenantID: "t1", TierID: "pro", TotalCount: 4})
	require.NoError(t, err)

	pools, err := svc.GetTenantPools(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pools, 2)

	_, err = svc.GetTenantPools(ctx, "missing")
	require.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
}
