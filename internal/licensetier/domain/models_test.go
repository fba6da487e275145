package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestFeatureIntAcceptsDecodedShapes(t *testing.T) {
	tier := &LicenseTier{Features: datatypes.JSONMap{
		"a": float64(5),
		"b": json.Number("7"),
		"c": "9",
		"d": true,
	}}

	v, ok := tier.FeatureInt("a")
	require.True(t, ok)
	require.Equal(t, int64(5), v)

	v, ok = tier.FeatureInt("b")
	require.True(t, ok)
	require.Equal(t, int64(7), v)

	v, ok = tier.FeatureInt("c")
	require.True(t, ok)
	require.Equal(t, int64(9), v)

	_, ok = tier.FeatureInt("d")
	require.False(t, ok)

	_, ok = tier.FeatureInt("missing")
	require.False(t, ok)
}

func TestEffectiveDefaults(t *testing.T) {
	var tier *LicenseTier
	require.True(t, tier.EffectiveMultiplier().Equal(decimal.NewFromInt(1)))
	require.True(t, tier.EffectiveCreditsPerUSD().Equal(decimal.NewFromInt(100)))

	tier = &LicenseTier{PricingMultiplier: decimal.RequireFromString("1.5"), CreditsPerUSD: decimal.NewFromInt(200)}
	require.Equal(t, "1.5", tier.EffectiveMultiplier().String())
	require.Equal(t, "200", tier.EffectiveCreditsPerUSD().String())
}
