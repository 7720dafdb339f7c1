package revenue

import (
	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// =============================================================================
// FINANCIALS
// =============================================================================

// Financials is the priced breakdown of one transaction. Values are never
// rounded here.
type Financials struct {
	Category     generic.Category
	Revenue      decimal.Decimal
	Units        decimal.Decimal
	VariableCost decimal.Decimal
	Fee          decimal.Decimal
	Commission   decimal.Decimal
	Cost         decimal.Decimal
	Profit       decimal.Decimal
}

// Amounts converts to the aggregator's measures.
func (f Financials) Amounts() generic.Amounts {
	return generic.Amounts{
		Revenue: f.Revenue,
		Cost:    f.Cost,
		Profit:  f.Profit,
		Units:   f.Units,
	}
}

// Attribution is what the calculator needs to know about who paid.
type Attribution struct {
	Rate        decimal.Decimal // metered only
	Tier        generic.Tier    // subscription only
	Referred    bool
	FirstPeriod bool
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator applies the profit formula of each revenue category.
type Calculator struct {
	pricing *Pricing
}

func NewCalculator(pricing *Pricing) Calculator {
	return Calculator{pricing: pricing}
}

// Price dispatches on category.
func (c Calculator) Price(category generic.Category, revenue decimal.Decimal, attr Attribution) Financials {
	switch category {
	case generic.CategoryBalanceRefill:
		return c.Metered(revenue, attr.Rate)
	case generic.CategorySubscription:
		return c.Subscription(revenue, attr.Tier, attr.Referred, attr.FirstPeriod)
	case generic.CategoryOther:
		return c.Other(revenue)
	default:
		return c.Other(revenue)
	}
}

// Metered prices usage revenue billed per unit at rate. A non-positive
// rate falls back to the default rate.
func (c Calculator) Metered(revenue, rate decimal.Decimal) Financials {
	if !rate.IsPositive() {
		rate = c.pricing.DefaultRate
	}
	units := revenue.Div(rate)
	variable := units.Mul(c.pricing.PlatformUnitCost)
	fee := revenue.Mul(c.pricing.FeeRate)
	cost := variable.Add(fee)
	return Financials{
		Category:     generic.CategoryBalanceRefill,
		Revenue:      revenue,
		Units:        units,
		VariableCost: variable,
		Fee:          fee,
		Cost:         cost,
		Profit:       revenue.Sub(cost),
	}
}

// Subscription prices one flat subscription period. Direct periods earn the
// tier's fixed profit; referred periods pay commission out of it.
//
// The renewal rate applies to first periods too unless TieredCommission is
// enabled, which mis-states first-month commission.
func (c Calculator) Subscription(revenue decimal.Decimal, tier generic.Tier, referred, firstPeriod bool) Financials {
	profit := c.pricing.PeriodProfit(tier)
	commission := decimal.Zero
	if referred {
		commission = revenue.Mul(c.pricing.CommissionRate(firstPeriod))
		profit = profit.Sub(commission)
	}
	return Financials{
		Category:   generic.CategorySubscription,
		Revenue:    revenue,
		Commission: commission,
		Cost:       revenue.Sub(profit),
		Profit:     profit,
	}
}

// Other prices uncategorized real revenue: only the processor fee is a cost.
func (c Calculator) Other(revenue decimal.Decimal) Financials {
	fee := revenue.Mul(c.pricing.FeeRate)
	return Financials{
		Category: generic.CategoryOther,
		Revenue:  revenue,
		Fee:      fee,
		Cost:     fee,
		Profit:   revenue.Sub(fee),
	}
}

// ManualRevenue prices administrator revenue, which has no principal and
// so uses the metered formula at the default rate.
func (c Calculator) ManualRevenue(amount decimal.Decimal) Financials {
	return c.Metered(amount, c.pricing.DefaultRate)
}

// ManualExpense is pure cost.
func (c Calculator) ManualExpense(amount decimal.Decimal) Financials {
	return Financials{
		Category: generic.CategoryOther,
		Cost:     amount,
		Profit:   amount.Neg(),
	}
}
