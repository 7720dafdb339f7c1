/*
store.go - Persistence interfaces for the reconciliation engine

PURPOSE:
  Defines the interface between the domain logic and the relational store.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  SubscriptionStore: One subscription row per principal
  LedgerStore:       Daily ledger rows, unique per (principal, date)
  AdjustmentStore:   Manual adjustments (admin CRUD)
  ReferralStore:     Referral attribution
  RateStore:         Per-principal metered rate, batch lookup
  BackfillRunStore:  History of backfill passes

UPSERT CONTRACT:
  Ledger rows are never duplicated. EnsureLedgerRow inserts or ignores;
  SetRecurringCostBase and AddMeteredCost touch exactly one row keyed by
  (principal, date). No operation locks the table.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - revenue/backfill.go: Main writer of ledger rows
  - revenue/report.go: Main reader
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type SubscriptionStore interface {
	// SaveSubscription inserts or replaces the principal's subscription.
	SaveSubscription(ctx context.Context, sub Subscription) error

	// GetSubscription returns nil, nil when the principal has none.
	GetSubscription(ctx context.Context, id PrincipalID) (*Subscription, error)

	ListSubscriptions(ctx context.Context) ([]Subscription, error)

	// SubscriptionsFor batch-loads subscriptions. Absent principals are
	// missing from the map.
	SubscriptionsFor(ctx context.Context, ids []PrincipalID) (map[PrincipalID]Subscription, error)
}

type LedgerStore interface {
	// EnsureLedgerRow inserts row unless (PrincipalID, Date) exists.
	// Returns true if a row was created.
	EnsureLedgerRow(ctx context.Context, row LedgerRow) (bool, error)

	// GetLedgerRow returns nil, nil when the row does not exist.
	GetLedgerRow(ctx context.Context, id PrincipalID, date string) (*LedgerRow, error)

	// LedgerRowsForPrincipal returns rows with from <= date <= to, by date.
	LedgerRowsForPrincipal(ctx context.Context, id PrincipalID, from, to string) ([]LedgerRow, error)

	// LedgerRowsInRange returns every principal's rows with from <= date <= to.
	LedgerRowsInRange(ctx context.Context, from, to string) ([]LedgerRow, error)

	// LedgerRowsNeedingBackfill returns rows whose recurring base is NULL or
	// zero, excluding rows dated excludeDate.
	LedgerRowsNeedingBackfill(ctx context.Context, excludeDate string) ([]LedgerRow, error)

	// HistoricalLedgerRows returns every row not dated excludeDate.
	HistoricalLedgerRows(ctx context.Context, excludeDate string) ([]LedgerRow, error)

	// SetRecurringCostBase updates exactly one row.
	SetRecurringCostBase(ctx context.Context, id PrincipalID, date string, value decimal.Decimal) error

	// AddMeteredCost adds amount to the row's metered cost, creating the
	// row if needed.
	AddMeteredCost(ctx context.Context, id PrincipalID, date string, amount decimal.Decimal) error
}

type AdjustmentStore interface {
	CreateAdjustment(ctx context.Context, adj Adjustment) error

	// UpdateAdjustment returns ErrAdjustmentNotFound for unknown IDs.
	UpdateAdjustment(ctx context.Context, adj Adjustment) error

	// DeleteAdjustment returns ErrAdjustmentNotFound for unknown IDs.
	DeleteAdjustment(ctx context.Context, id AdjustmentID) error

	// GetAdjustment returns nil, nil when the ID does not exist.
	GetAdjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error)

	// ListAdjustments returns adjustments with from <= date <= to, ordered
	// by date. Empty bounds are open.
	ListAdjustments(ctx context.Context, from, to string) ([]Adjustment, error)
}

type ReferralStore interface {
	SaveReferral(ctx context.Context, ref Referral) error
	ListReferrals(ctx context.Context) ([]Referral, error)
}

type RateStore interface {
	SaveRateProfile(ctx context.Context, rp RateProfile) error

	// RatesFor batch-loads rates in a single query. Absent principals are
	// missing from the map.
	RatesFor(ctx context.Context, ids []PrincipalID) (map[PrincipalID]decimal.Decimal, error)
}

// =============================================================================
// BACKFILL RUNS
// =============================================================================

type BackfillRunStatus string

const (
	BackfillRunning   BackfillRunStatus = "running"
	BackfillCompleted BackfillRunStatus = "completed"
	BackfillFailed    BackfillRunStatus = "failed"
)

// BackfillRun records one pass of the backfill reconciler.
type BackfillRun struct {
	ID          string
	Mode        string
	Status      BackfillRunStatus
	Scanned     int
	Patched     int
	Skipped     int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type BackfillRunStore interface {
	SaveBackfillRun(ctx context.Context, run BackfillRun) error
	ListBackfillRuns(ctx context.Context, limit int) ([]BackfillRun, error)
}

// =============================================================================
// STORE - Everything the engine needs
// =============================================================================

type Store interface {
	SubscriptionStore
	LedgerStore
	AdjustmentStore
	ReferralStore
	RateStore
	BackfillRunStore
}
