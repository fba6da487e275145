package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/cache"
	"github.com/smallbiznis/creditline/internal/clock"
	tierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	tierrepository "github.com/smallbiznis/creditline/internal/licensetier/repository"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, tierCache cache.TierCache) (tierdomain.Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:      tierrepository.Provide(),
		TierCache: tierCache,
	})
	return svc, conn
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, _ := newTestService(t, nil)

	tier, err := svc.Create(context.Background(), tierdomain.CreateRequest{
		Name:           "  STARTER ",
		DefaultCredits: 500,
		MonthlyPrice:   decimal.RequireFromString("9.999"),
		MaxFlows:       int64Ptr(5),
		CreatedBy:      "admin-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, tier.ID)
	require.Equal(t, "STARTER", tier.Name)
	require.True(t, tier.CreditsPerUSD.Equal(tierdomain.DefaultCreditsPerUSD))
	require.True(t, tier.PricingMultiplier.Equal(tierdomain.DefaultPricingMultiplier))
	require.Equal(t, "10", tier.MonthlyPrice.String())
	require.True(t, tier.IsActive)
	require.Equal(t, "admin-1", *tier.CreatedBy)

	got, err := svc.Get(context.Background(), tier.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), *got.MaxFlows)
	require.Nil(t, got.MaxUsers)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	zero := decimal.Zero

	cases := []struct {
		name string
		req  tierdomain.CreateRequest
		err  error
	}{
		{"blank name", tierdomain.CreateRequest{Name: " "}, tierdomain.ErrInvalidTierName},
		{"negative credits", tierdomain.CreateRequest{Name: "a", DefaultCredits: -1}, tierdomain.ErrInvalidDefaultCredits},
		{"negative limit", tierdomain.CreateRequest{Name: "a", MaxUsers: int64Ptr(-2)}, tierdomain.ErrInvalidLimit},
		{"negative price", tierdomain.CreateRequest{Name: "a", MonthlyPrice: decimal.NewFromInt(-1)}, tierdomain.ErrInvalidPrice},
		{"zero credits per usd", tierdomain.CreateRequest{Name: "a", CreditsPerUSD: &zero}, tierdomain.ErrInvalidCreditsPerUSD},
		{"zero multiplier", tierdomain.CreateRequest{Name: "a", PricingMultiplier: &zero}, tierdomain.ErrInvalidMultiplier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, tierdomain.CreateRequest{Name: "PRO"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, tierdomain.CreateRequest{Name: "PRO"})
	require.ErrorIs(t, err, tierdomain.ErrTierNameTaken)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	tierCache := cache.NewTierCache()
	svc, _ := newTestService(t, tierCache)
	ctx := context.Background()

	tier, err := svc.Create(ctx, tierdomain.CreateRequest{Name: "BASIC", DefaultCredits: 1000})
	require.NoError(t, err)
	_, err = svc.Get(ctx, tier.ID)
	require.NoError(t, err)
	_, cached := tierCache.GetTier(tier.ID)
	require.True(t, cached)

	multiplier := decimal.RequireFromString("1.5")
	updated, err := svc.Update(ctx, tier.ID, tierdomain.UpdateRequest{
		PricingMultiplier: &multiplier,
		MaxAPICalls:       int64Ptr(50),
	})
	require.NoError(t, err)
	require.True(t, updated.PricingMultiplier.Equal(multiplier))
	require.Equal(t, "BASIC", updated.Name)
	_, cached = tierCache.GetTier(tier.ID)
	require.False(t, cached)

	got, err := svc.Get(ctx, tier.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50), *got.MaxAPICalls)
	require.Equal(t, int64(1000), got.DefaultCredits)
}

func TestUpdateErrors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, tierdomain.CreateRequest{Name: "A"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, tierdomain.CreateRequest{Name: "B"})
	require.NoError(t, err)

	taken := "B"
	_, err = svc.Update(ctx, a.ID, tierdomain.UpdateRequest{Name: &taken})
	require.ErrorIs(t, err, tierdomain.ErrTierNameTaken)

	same := "A"
	_, err = svc.Update(ctx, a.ID, tierdomain.UpdateRequest{Name: &same})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "missing", tierdomain.UpdateRequest{})
	require.ErrorIs(t, err, tierdomain.ErrTierNotFound)
	_, err = svc.Update(ctx, a.ID, tierdomain.UpdateRequest{MaxFlows: int64Ptr(-1)})
	require.ErrorIs(t, err, tierdomain.ErrInvalidLimit)
}

func TestDeleteRefusesReferencedTier(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	dbtest.SeedTenant(t, conn, "t1")

	used, err := svc.Create(ctx, tierdomain.CreateRequest{Name: "USED"})
	require.NoError(t, err)
	free, err := svc.Create(ctx, tierdomain.CreateRequest{Name: "FREE"})
	require.NoError(t, err)
	dbtest.SeedUser(t, conn, dbtest.LicensedUser("u1", "t1", used.ID, 10, 0))

	require.ErrorIs(t, svc.Delete(ctx, used.ID), tierdomain.ErrTierInUse)
	require.NoError(t, svc.Delete(ctx, free.ID))
	_, err = svc.Get(ctx, free.ID)
	require.ErrorIs(t, err, tierdomain.ErrTierNotFound)
	require.ErrorIs(t, svc.Delete(ctx, free.ID), tierdomain.ErrTierNotFound)
}

func TestListActiveOnly(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	inactive := false

	_, err := svc.Create(ctx, tierdomain.CreateRequest{Name: "ON"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, tierdomain.CreateRequest{Name: "OFF", IsActive: &inactive})
	require.NoError(t, err)

	all, err := svc.List(ctx, tierdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := svc.List(ctx, tierdomain.ListRequest{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "ON", active[0].Name)
}

func TestEnsureDefaultsIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaults(ctx))
	require.NoError(t, svc.EnsureDefaults(ctx))

	tiers, err := svc.List(ctx, tierdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, tiers, 3)

	enterprise, err := svc.GetByName(ctx, "ENTERPRISE")
	require.NoError(t, err)
	require.Nil(t, enterprise.MaxUsers)
	require.Nil(t, enterprise.MaxFlows)
	require.Equal(t, int64(100000), enterprise.DefaultCredits)
	require.Equal(t, "system", *enterprise.CreatedBy)

	_, err = svc.GetByName(ctx, "NOPE")
	require.ErrorIs(t, err, tierdomain.ErrTierNotFound)
}
