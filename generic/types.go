/*
Package generic provides the core primitives of the reconciliation engine.

PURPOSE:
  This package contains the data model and the domain-agnostic algorithms
  the revenue engine is built from: local-calendar time bucketing, half-open
  reporting periods, bucket aggregation, the error taxonomy and the store
  interfaces. Nothing here performs I/O or reads the wall clock.

KEY CONCEPTS IN THIS FILE (types.go):
  - PrincipalID: A paying tenant account
  - Subscription: The active plan of a principal
  - LedgerRow: One cost/revenue row per principal per local day
  - Adjustment: Administrator-entered correction (signed)
  - Referral / RateProfile: Attribution and metered-rate inputs
  - Category / Metric: Closed variants for profit-formula dispatch

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, rounded only at presentation
  2. Closed variants: Category has an explicit Other arm, never free text
  3. Dates are local calendar strings (YYYY-MM-DD) in the tenant's timezone

SEE ALSO:
  - time.go: Timezone bucketing utility
  - period.go: Half-open periods and trailing buckets
  - bucket.go: Aggregation of dated events into buckets
  - store.go: Persistence interfaces
*/
package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PrincipalID string
type AdjustmentID string

// Tier is a subscription plan name ("starter", "pro", "elite").
type Tier string

// =============================================================================
// SUBSCRIPTION
// =============================================================================

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is the current plan of a paying principal.
// There is at most one row per principal.
type Subscription struct {
	PrincipalID            PrincipalID
	Tier                   Tier
	Status                 SubscriptionStatus
	CreatedAt              time.Time
	CurrentPeriodEnd       time.Time
	ExternalSubscriptionID string
}

// IsCurrent reports whether the subscription still accrues a daily base cost.
func (s Subscription) IsCurrent() bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
		return true
	default:
		return false
	}
}

// =============================================================================
// LEDGER ROW - One row per (principal, local date)
// =============================================================================

// LedgerRow is the per-principal, per-day cost and revenue record.
// RecurringCostBase is nil when it has never been computed; the backfill
// reconciler repairs such rows.
type LedgerRow struct {
	PrincipalID        PrincipalID
	Date               string // YYYY-MM-DD in the principal's local calendar
	Revenue            decimal.Decimal
	RecurringCostBase  *decimal.Decimal
	MeteredCostAccrued decimal.Decimal
}

// BaseCost returns the recurring base, treating a missing value as zero.
func (r LedgerRow) BaseCost() decimal.Decimal {
	if r.RecurringCostBase == nil {
		return decimal.Zero
	}
	return *r.RecurringCostBase
}

// NeedsBackfill reports whether the recurring base is missing or zero.
func (r LedgerRow) NeedsBackfill() bool {
	return r.RecurringCostBase == nil || r.RecurringCostBase.IsZero()
}

// TotalCost is the recurring base plus metered usage.
func (r LedgerRow) TotalCost() decimal.Decimal {
	return r.BaseCost().Add(r.MeteredCostAccrued)
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

type AdjustmentType string

const (
	AdjustmentRevenue AdjustmentType = "revenue"
	AdjustmentExpense AdjustmentType = "expense"
)

// Adjustment is a platform-wide manual entry. Amount is signed; a negative
// amount is the supported way to correct a real record.
type Adjustment struct {
	ID          AdjustmentID
	Type        AdjustmentType
	Category    string
	Amount      decimal.Decimal
	Date        string // YYYY-MM-DD
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Metric returns the report metric this adjustment contributes to.
func (a Adjustment) Metric() Metric {
	if a.Type == AdjustmentExpense {
		return MetricCost
	}
	return MetricRevenue
}

// =============================================================================
// REFERRAL & RATE PROFILE
// =============================================================================

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralConverted ReferralStatus = "converted"
	ReferralActive    ReferralStatus = "active"
	ReferralRevoked   ReferralStatus = "revoked"
)

type Referral struct {
	RefereeID PrincipalID
	Status    ReferralStatus
	CreatedAt time.Time
}

// Attributes reports whether the referral attributes a period starting at
// periodStart to the referrer.
func (r Referral) Attributes(periodStart time.Time) bool {
	if r.Status != ReferralConverted && r.Status != ReferralActive {
		return false
	}
	return !r.CreatedAt.After(periodStart)
}

// RateProfile is the per-unit price a principal pays for metered usage.
type RateProfile struct {
	PrincipalID PrincipalID
	CostPerUnit decimal.Decimal
}

// =============================================================================
// CATEGORY - Closed variant for revenue categories
// =============================================================================

type Category int

const (
	CategoryOther Category = iota
	CategoryBalanceRefill
	CategorySubscription
)

// Categories lists every arm, in display order.
var Categories = []Category{CategoryBalanceRefill, CategorySubscription, CategoryOther}

func (c Category) String() string {
	switch c {
	case CategoryBalanceRefill:
		return "balance_refill"
	case CategorySubscription:
		return "subscription"
	default:
		return "other"
	}
}

// Label is the human-facing name used for manual adjustment categories.
func (c Category) Label() string {
	switch c {
	case CategoryBalanceRefill:
		return "Balance Refill"
	case CategorySubscription:
		return "Subscription"
	default:
		return "Other"
	}
}

// ParseCategory maps a label or tag to its arm. Unknown values land in Other.
func ParseCategory(s string) Category {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "balance_refill", "refill", "balance_top_up", "top_up":
		return CategoryBalanceRefill
	case "subscription", "subscriptions":
		return CategorySubscription
	default:
		return CategoryOther
	}
}

// =============================================================================
// METRIC
// =============================================================================

type Metric string

const (
	MetricRevenue Metric = "revenue"
	MetricCost    Metric = "cost"
	MetricProfit  Metric = "profit"
)

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Round2 rounds for presentation. Never call it mid-aggregation.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
