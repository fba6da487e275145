package dbtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixtureTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func SeedTenant(t *testing.T, conn *gorm.DB, id string) *tenantdomain.Tenant {
	t.Helper()
	tenant := &tenantdomain.Tenant{
		ID:        id,
		Name:      "Tenant " + id,
		Slug:      "tenant-" + id,
		Status:    tenantdomain.TenantStatusActive,
		Amount:    decimal.Zero,
		CreatedAt: fixtureTime,
		UpdatedAt: fixtureTime,
	}
	require.NoError(t, conn.Create(tenant).Error)
	return tenant
}

// SeedTier creates an active tier at 100 credits per USD and multiplier 1.
// Callers adjust fields through mutate before the insert.
func SeedTier(t *testing.T, conn *gorm.DB, id string, defaultCredits int64, mutate ...func(*licensetierdomain.LicenseTier)) *licensetierdomain.LicenseTier {
	t.Helper()
	tier := &licensetierdomain.LicenseTier{
		ID:                id,
		Name:              "TIER-" + id,
		DefaultCredits:    defaultCredits,
		CreditsPerUSD:     decimal.NewFromInt(100),
		PricingMultiplier: decimal.NewFromInt(1),
		MonthlyPrice:      decimal.NewFromInt(29),
		IsActive:          true,
		CreatedAt:         fixtureTime,
		UpdatedAt:         fixtureTime,
	}
	for _, fn := range mutate {
		fn(tier)
	}
	require.NoError(t, conn.Create(tier).Error)
	return tier
}

// SeedUser inserts user after filling email, role and timestamps when unset.
func SeedUser(t *testing.T, conn *gorm.DB, user *userdomain.User) *userdomain.User {
	t.Helper()
	if user.Email == "" {
		user.Email = user.ID + "@example.com"
	}
	if user.Role == "" {
		user.Role = userdomain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = fixtureTime
		user.UpdatedAt = fixtureTime
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

// LicensedUser builds a user holding tierID with the given balance.
func LicensedUser(id, tenantID, tierID string, allocated, used int64) *userdomain.User {
	return &userdomain.User{
		ID:               id,
		TenantID:         tenantID,
		LicenseTierID:    &tierID,
		LicensePoolID:    &tierID,
		CreditsAllocated: allocated,
		CreditsUsed:      used,
		LicenseIsActive:  true,
	}
}

// ReloadUser reads the user row back.
func ReloadUser(t *testing.T, conn *gorm.DB, id string) *userdomain.User {
	t.Helper()
	var user userdomain.User
	require.NoError(t, conn.First(&user, "id = ?", id).Error)
	return &user
}

// JSONInt reads an integer out of a decoded JSON column value.
func JSONInt(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case json.Number:
		out, err := n.Int64()
		require.NoError(t, err)
		return out
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		require.Failf(t, "not a JSON number", "got %T", v)
		return 0
	}
}
