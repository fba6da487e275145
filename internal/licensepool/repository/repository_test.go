package repository

import (
	"context"
	"testing"
	"time"

	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	"github.com/stretchr/testify/require"
)

func TestSetTotalRejectsUnbalancedCounters(t *testing.T) {
	conn := dbtest.Open(t)
	r := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	pool := &licensepooldomain.LicensePool{
		ID:             "pool-1",
		TenantID:       "t1",
		TierID:         "basic",
		TotalCount:     2,
		AvailableCount: 1,
		AssignedCount:  1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, r.Insert(ctx, conn, pool))

	err := r.SetTotal(ctx, conn, pool.ID, 1, 1, now)
	require.ErrorIs(t, err, licensepooldomain.ErrPoolReductionBelowAssigned)

	stored, err := r.FindByTenantTier(ctx, conn, "t1", "basic")
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.TotalCount)

	require.NoError(t, r.SetTotal(ctx, conn, pool.ID, 3, 2, now))
	stored, err = r.FindByTenantTier(ctx, conn, "t1", "basic")
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.TotalCount)
	require.Equal(t, int64(1), stored.Version)
}
