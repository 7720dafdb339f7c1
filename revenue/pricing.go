/*
Package revenue reconciles processor transactions, internal ledger rows and
manual adjustments into revenue, cost and profit reports.

PURPOSE:
  This is the domain layer. It prices every transaction by attribution,
  merges in administrator adjustments, keeps per-day ledger rows correct,
  and assembles the admin-wide report and the per-tenant dashboard.

KEY CONCEPTS:
  - Pricing: Tier prices, rates, commission and excluded principals
  - Calculator: Cost/profit formulas by category
  - RateResolver: Batch per-principal rate lookup with default
  - Reconciler: Lazy daily row creation and the backfill pass
  - Assembler: Report and dashboard entry points

SEE ALSO:
  - generic/: Time bucketing, aggregation, store interfaces
  - payments/: Processor listing
  - factory/pricing.go: Builds Pricing from JSON
*/
package revenue

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// =============================================================================
// PRICING
// =============================================================================

// Pricing is the configuration every formula reads. It is immutable once
// built; replace it wholesale to change prices.
type Pricing struct {
	// DefaultRate is the per-unit price billed when a principal has no
	// rate profile, and for manual revenue with no principal.
	DefaultRate decimal.Decimal

	// PlatformUnitCost is what one metered unit costs the platform.
	PlatformUnitCost decimal.Decimal

	// FeeRate is the processor's fee as a fraction of revenue.
	FeeRate decimal.Decimal

	// TierPrices is the monthly price of each subscription tier.
	TierPrices map[generic.Tier]decimal.Decimal

	// ProfitPerPeriod is the fixed profit of one direct subscription period.
	ProfitPerPeriod        map[generic.Tier]decimal.Decimal
	DefaultProfitPerPeriod decimal.Decimal

	// Commission paid to referrers on referred subscription periods.
	FirstPeriodCommissionRate decimal.Decimal
	RenewalCommissionRate     decimal.Decimal

	// TieredCommission applies FirstPeriodCommissionRate to first periods.
	// Off by default: every referred period uses RenewalCommissionRate.
	TieredCommission bool

	// LaunchDate is the lower bound for all-time processor fetches.
	LaunchDate time.Time

	// ExcludedPrincipals are internal or test accounts left out of reports.
	ExcludedPrincipals map[generic.PrincipalID]struct{}
}

// DefaultPricing returns the production price table.
func DefaultPricing() *Pricing {
	return &Pricing{
		DefaultRate:      decimal.RequireFromString("0.35"),
		PlatformUnitCost: decimal.RequireFromString("0.15"),
		FeeRate:          decimal.RequireFromString("0.03"),
		TierPrices: map[generic.Tier]decimal.Decimal{
			"starter": decimal.NewFromInt(299),
			"pro":     decimal.NewFromInt(599),
			"elite":   decimal.NewFromInt(899),
		},
		ProfitPerPeriod: map[generic.Tier]decimal.Decimal{
			"starter": decimal.NewFromInt(150),
			"pro":     decimal.NewFromInt(350),
			"elite":   decimal.NewFromInt(550),
		},
		DefaultProfitPerPeriod:    decimal.NewFromInt(150),
		FirstPeriodCommissionRate: decimal.RequireFromString("0.30"),
		RenewalCommissionRate:     decimal.RequireFromString("0.15"),
		LaunchDate:                time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ExcludedPrincipals:        map[generic.PrincipalID]struct{}{},
	}
}

// TierPrice returns the monthly price of a tier.
func (p *Pricing) TierPrice(tier generic.Tier) (decimal.Decimal, bool) {
	price, ok := p.TierPrices[tier]
	return price, ok
}

// DailyBase is the recurring cost base of one day: the tier's monthly
// price spread over the days of the month that date falls in.
func (p *Pricing) DailyBase(tier generic.Tier, date string) (decimal.Decimal, bool) {
	price, ok := p.TierPrice(tier)
	if !ok {
		return decimal.Zero, false
	}
	days, err := generic.DaysInMonthOf(date)
	if err != nil {
		return decimal.Zero, false
	}
	return price.Div(decimal.NewFromInt(int64(days))), true
}

// PeriodProfit returns the fixed profit of one direct period of tier.
func (p *Pricing) PeriodProfit(tier generic.Tier) decimal.Decimal {
	if profit, ok := p.ProfitPerPeriod[tier]; ok {
		return profit
	}
	return p.DefaultProfitPerPeriod
}

// CommissionRate returns the referral commission for a period.
func (p *Pricing) CommissionRate(firstPeriod bool) decimal.Decimal {
	if p.TieredCommission && firstPeriod {
		return p.FirstPeriodCommissionRate
	}
	return p.RenewalCommissionRate
}

// Excluded reports whether a principal is left out of reports.
func (p *Pricing) Excluded(id generic.PrincipalID) bool {
	_, ok := p.ExcludedPrincipals[id]
	return ok
}
