/*
Package factory provides JSON to Go pricing conversion.

PURPOSE:
  Converts a JSON price table into a revenue.Pricing. Finance can change
  tier prices, rates, commission and the excluded-principal list without a
  code change; the server loads the file at startup.

JSON SCHEMA:
  {
    "default_rate": "0.35",
    "platform_unit_cost": "0.15",
    "fee_rate": "0.03",
    "tiers": [
      {"name": "starter", "monthly_price": "299", "profit_per_period": "150"},
      {"name": "elite",   "monthly_price": "899", "profit_per_period": "550"}
    ],
    "default_profit_per_period": "150",
    "commission": {"first_period_rate": "0.30", "renewal_rate": "0.15", "tiered": false},
    "launch_date": "2024-01-01",
    "excluded_principals": ["internal-qa", "demo-account"]
  }

DEFAULTS:
  Every omitted field keeps the value from revenue.DefaultPricing. A tier
  list, when present, replaces the default tiers entirely.

USAGE:
  pf := factory.NewPricingFactory()
  pricing, err := pf.LoadFile("./pricing.json")

SEE ALSO:
  - revenue/pricing.go: Pricing type definition
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/revenue"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PricingJSON is the JSON representation of a price table.
type PricingJSON struct {
	DefaultRate            *decimal.Decimal `json:"default_rate,omitempty"`
	PlatformUnitCost       *decimal.Decimal `json:"platform_unit_cost,omitempty"`
	FeeRate                *decimal.Decimal `json:"fee_rate,omitempty"`
	Tiers                  []TierJSON       `json:"tiers,omitempty"`
	DefaultProfitPerPeriod *decimal.Decimal `json:"default_profit_per_period,omitempty"`
	Commission             *CommissionJSON  `json:"commission,omitempty"`
	LaunchDate             string           `json:"launch_date,omitempty"` // YYYY-MM-DD, UTC
	ExcludedPrincipals     []string         `json:"excluded_principals,omitempty"`
}

// TierJSON is one subscription tier.
type TierJSON struct {
	Name            string           `json:"name"`
	MonthlyPrice    decimal.Decimal  `json:"monthly_price"`
	ProfitPerPeriod *decimal.Decimal `json:"profit_per_period,omitempty"`
}

// CommissionJSON is the referral commission schedule.
type CommissionJSON struct {
	FirstPeriodRate *decimal.Decimal `json:"first_period_rate,omitempty"`
	RenewalRate     *decimal.Decimal `json:"renewal_rate,omitempty"`
	Tiered          bool             `json:"tiered,omitempty"`
}

// =============================================================================
// PRICING FACTORY
// =============================================================================

// PricingFactory creates Pricing from JSON.
type PricingFactory struct{}

func NewPricingFactory() *PricingFactory {
	return &PricingFactory{}
}

// LoadFile reads and parses a pricing file.
func (f *PricingFactory) LoadFile(path string) (*revenue.Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	return f.ParsePricing(string(data))
}

// ParsePricing parses a JSON string into a Pricing.
func (f *PricingFactory) ParsePricing(jsonStr string) (*revenue.Pricing, error) {
	var pj PricingJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse pricing JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON overlays pj on the default pricing and validates the result.
func (f *PricingFactory) FromJSON(pj PricingJSON) (*revenue.Pricing, error) {
	p := revenue.DefaultPricing()

	setDecimal(&p.DefaultRate, pj.DefaultRate)
	setDecimal(&p.PlatformUnitCost, pj.PlatformUnitCost)
	setDecimal(&p.FeeRate, pj.FeeRate)
	setDecimal(&p.DefaultProfitPerPeriod, pj.DefaultProfitPerPeriod)

	if len(pj.Tiers) > 0 {
		p.TierPrices = make(map[generic.Tier]decimal.Decimal, len(pj.Tiers))
		p.ProfitPerPeriod = make(map[generic.Tier]decimal.Decimal, len(pj.Tiers))
		for _, tj := range pj.Tiers {
			name := generic.Tier(strings.ToLower(strings.TrimSpace(tj.Name)))
			if name == "" {
				return nil, fmt.Errorf("tier name is required")
			}
			if _, dup := p.TierPrices[name]; dup {
				return nil, fmt.Errorf("duplicate tier %q", name)
			}
			if tj.MonthlyPrice.IsNegative() {
				return nil, fmt.Errorf("tier %q has a negative price", name)
			}
			p.TierPrices[name] = tj.MonthlyPrice
			if tj.ProfitPerPeriod != nil {
				p.ProfitPerPeriod[name] = *tj.ProfitPerPeriod
			}
		}
	}

	if c := pj.Commission; c != nil {
		setDecimal(&p.FirstPeriodCommissionRate, c.FirstPeriodRate)
		setDecimal(&p.RenewalCommissionRate, c.RenewalRate)
		p.TieredCommission = c.Tiered
	}

	if pj.LaunchDate != "" {
		launch, err := time.Parse("2006-01-02", pj.LaunchDate)
		if err != nil {
			return nil, fmt.Errorf("invalid launch_date format: %w", err)
		}
		p.LaunchDate = launch
	}

	for _, id := range pj.ExcludedPrincipals {
		p.ExcludedPrincipals[generic.PrincipalID(id)] = struct{}{}
	}

	if !p.DefaultRate.IsPositive() {
		return nil, fmt.Errorf("default_rate must be positive")
	}
	if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee_rate must be in [0, 1)")
	}
	return p, nil
}

// ToJSON converts a Pricing back to its JSON form.
func (f *PricingFactory) ToJSON(p *revenue.Pricing) PricingJSON {
	pj := PricingJSON{
		DefaultRate:            generic.DecimalPtr(p.DefaultRate),
		PlatformUnitCost:       generic.DecimalPtr(p.PlatformUnitCost),
		FeeRate:                generic.DecimalPtr(p.FeeRate),
		DefaultProfitPerPeriod: generic.DecimalPtr(p.DefaultProfitPerPeriod),
		Commission: &CommissionJSON{
			FirstPeriodRate: generic.DecimalPtr(p.FirstPeriodCommissionRate),
			RenewalRate:     generic.DecimalPtr(p.RenewalCommissionRate),
			Tiered:          p.TieredCommission,
		},
		LaunchDate: p.LaunchDate.Format("2006-01-02"),
	}
	for name, price := range p.TierPrices {
		tj := TierJSON{Name: string(name), MonthlyPrice: price}
		if profit, ok := p.ProfitPerPeriod[name]; ok {
			tj.ProfitPerPeriod = generic.DecimalPtr(profit)
		}
		pj.Tiers = append(pj.Tiers, tj)
	}
	for id := range p.ExcludedPrincipals {
		pj.ExcludedPrincipals = append(pj.ExcludedPrincipals, string(id))
	}
	return pj
}

func setDecimal(dst *decimal.Decimal, src *decimal.Decimal) {
	if src != nil {
		*dst = *src
	}
}
