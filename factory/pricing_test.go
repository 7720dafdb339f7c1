package factory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/revenue-engine/factory"
)

func TestParsePricing_OverlaysDefaults(t *testing.T) {
	// GIVEN: A file that overrides tiers, commission and exclusions only
	pf := factory.NewPricingFactory()
	jsonStr := `{
		"tiers": [
			{"name": "Basic", "monthly_price": "199", "profit_per_period": "90"},
			{"name": "elite", "monthly_price": 930}
		],
		"commission": {"renewal_rate": "0.10", "tiered": true},
		"launch_date": "2023-09-01",
		"excluded_principals": ["internal-qa"]
	}`

	// WHEN: Parsing
	p, err := pf.ParsePricing(jsonStr)

	// THEN: Overrides apply, everything else keeps its default
	require.NoError(t, err)
	assert.True(t, p.TierPrices["basic"].Equal(decimal.NewFromInt(199)))
	assert.True(t, p.TierPrices["elite"].Equal(decimal.NewFromInt(930)))
	_, hasStarter := p.TierPrices["starter"]
	assert.False(t, hasStarter, "tier list replaces default tiers")
	assert.True(t, p.PeriodProfit("basic").Equal(decimal.NewFromInt(90)))
	assert.True(t, p.PeriodProfit("elite").Equal(p.DefaultProfitPerPeriod))

	assert.True(t, p.RenewalCommissionRate.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, p.FirstPeriodCommissionRate.Equal(decimal.RequireFromString("0.30")))
	assert.True(t, p.TieredCommission)

	assert.True(t, p.DefaultRate.Equal(decimal.RequireFromString("0.35")))
	assert.Equal(t, time.Date(2023, time.September, 1, 0, 0, 0, 0, time.UTC), p.LaunchDate)
	assert.True(t, p.Excluded("internal-qa"))
	assert.False(t, p.Excluded("p-1"))
}

func TestParsePricing_Rejects(t *testing.T) {
	pf := factory.NewPricingFactory()

	for name, jsonStr := range map[string]string{
		"malformed":      `{"tiers": [`,
		"zero rate":      `{"default_rate": "0"}`,
		"fee over 100%":  `{"fee_rate": "1.5"}`,
		"unnamed tier":   `{"tiers": [{"monthly_price": "10"}]}`,
		"duplicate tier": `{"tiers": [{"name": "pro", "monthly_price": "10"}, {"name": "PRO", "monthly_price": "20"}]}`,
		"bad launch":     `{"launch_date": "Sept 2023"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := pf.ParsePricing(jsonStr)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_RoundTripsDefaults(t *testing.T) {
	pf := factory.NewPricingFactory()
	defaults, err := pf.ParsePricing(`{}`)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pricing.json")
	data, err := json.Marshal(pf.ToJSON(defaults))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := pf.LoadFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.TierPrices["elite"].Equal(defaults.TierPrices["elite"]))
	assert.True(t, loaded.FeeRate.Equal(defaults.FeeRate))
	assert.Equal(t, defaults.LaunchDate, loaded.LaunchDate)

	_, err = pf.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
