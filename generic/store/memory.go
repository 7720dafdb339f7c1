// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	subscriptions map[generic.PrincipalID]generic.Subscription
	ledger        map[rowKey]generic.LedgerRow
	adjustments   map[generic.AdjustmentID]generic.Adjustment
	referrals     []generic.Referral
	rates         map[generic.PrincipalID]decimal.Decimal
	runs          []generic.BackfillRun

	// RateQueries counts RatesFor calls.
	RateQueries int
	// FailWith, when set, is returned by every read.
	FailWith error
}

type rowKey struct {
	PrincipalID generic.PrincipalID
	Date        string
}

var _ generic.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		subscriptions: make(map[generic.PrincipalID]generic.Subscription),
		ledger:        make(map[rowKey]generic.LedgerRow),
		adjustments:   make(map[generic.AdjustmentID]generic.Adjustment),
		rates:         make(map[generic.PrincipalID]decimal.Decimal),
	}
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (m *Memory) SaveSubscription(_ context.Context, sub generic.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.PrincipalID] = sub
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id generic.PrincipalID) (*generic.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]generic.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	result := make([]generic.Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, sub)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PrincipalID < result[j].PrincipalID })
	return result, nil
}

func (m *Memory) SubscriptionsFor(_ context.Context, ids []generic.PrincipalID) (map[generic.PrincipalID]generic.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	result := make(map[generic.PrincipalID]generic.Subscription, len(ids))
	for _, id := range ids {
		if sub, ok := m.subscriptions[id]; ok {
			result[id] = sub
		}
	}
	return result, nil
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

func (m *Memory) EnsureLedgerRow(_ context.Context, row generic.LedgerRow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{PrincipalID: row.PrincipalID, Date: row.Date}
	if _, ok := m.ledger[k]; ok {
		return false, nil
	}
	m.ledger[k] = copyRow(row)
	return true, nil
}

func (m *Memory) GetLedgerRow(_ context.Context, id generic.PrincipalID, date string) (*generic.LedgerRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	row, ok := m.ledger[rowKey{PrincipalID: id, Date: date}]
	if !ok {
		return nil, nil
	}
	row = copyRow(row)
	return &row, nil
}

func (m *Memory) LedgerRowsForPrincipal(_ context.Context, id generic.PrincipalID, from, to string) ([]generic.LedgerRow, error) {
	return m.filterRows(func(r generic.LedgerRow) bool {
		return r.PrincipalID == id && inRange(r.Date, from, to)
	})
}

func (m *Memory) LedgerRowsInRange(_ context.Context, from, to string) ([]generic.LedgerRow, error) {
	return m.filterRows(func(r generic.LedgerRow) bool { return inRange(r.Date, from, to) })
}

func (m *Memory) LedgerRowsNeedingBackfill(_ context.Context, excludeDate string) ([]generic.LedgerRow, error) {
	return m.filterRows(func(r generic.LedgerRow) bool {
		return r.Date != excludeDate && r.NeedsBackfill()
	})
}

func (m *Memory) HistoricalLedgerRows(_ context.Context, excludeDate string) ([]generic.LedgerRow, error) {
	return m.filterRows(func(r generic.LedgerRow) bool { return r.Date != excludeDate })
}

func (m *Memory) SetRecurringCostBase(_ context.Context, id generic.PrincipalID, date string, value decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{PrincipalID: id, Date: date}
	row, ok := m.ledger[k]
	if !ok {
		return nil
	}
	row.RecurringCostBase = generic.DecimalPtr(value)
	m.ledger[k] = row
	return nil
}

func (m *Memory) AddMeteredCost(_ context.Context, id generic.PrincipalID, date string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{PrincipalID: id, Date: date}
	row, ok := m.ledger[k]
	if !ok {
		row = generic.LedgerRow{PrincipalID: id, Date: date}
	}
	row.MeteredCostAccrued = row.MeteredCostAccrued.Add(amount)
	m.ledger[k] = row
	return nil
}

func (m *Memory) filterRows(keep func(generic.LedgerRow) bool) ([]generic.LedgerRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var result []generic.LedgerRow
	for _, row := range m.ledger {
		if keep(row) {
			result = append(result, copyRow(row))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].PrincipalID < result[j].PrincipalID
	})
	return result, nil
}

func copyRow(r generic.LedgerRow) generic.LedgerRow {
	if r.RecurringCostBase != nil {
		r.RecurringCostBase = generic.DecimalPtr(*r.RecurringCostBase)
	}
	return r
}

func inRange(date, from, to string) bool {
	return (from == "" || date >= from) && (to == "" || date <= to)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (m *Memory) CreateAdjustment(_ context.Context, adj generic.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments[adj.ID] = adj
	return nil
}

func (m *Memory) UpdateAdjustment(_ context.Context, adj generic.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.adjustments[adj.ID]
	if !ok {
		return generic.ErrAdjustmentNotFound
	}
	adj.CreatedAt = existing.CreatedAt
	m.adjustments[adj.ID] = adj
	return nil
}

func (m *Memory) DeleteAdjustment(_ context.Context, id generic.AdjustmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adjustments[id]; !ok {
		return generic.ErrAdjustmentNotFound
	}
	delete(m.adjustments, id)
	return nil
}

func (m *Memory) GetAdjustment(_ context.Context, id generic.AdjustmentID) (*generic.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adj, ok := m.adjustments[id]
	if !ok {
		return nil, nil
	}
	return &adj, nil
}

func (m *Memory) ListAdjustments(_ context.Context, from, to string) ([]generic.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var result []generic.Adjustment
	for _, adj := range m.adjustments {
		if inRange(adj.Date, from, to) {
			result = append(result, adj)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// REFERRALS & RATES
// =============================================================================

func (m *Memory) SaveReferral(_ context.Context, ref generic.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals = append(m.referrals, ref)
	return nil
}

func (m *Memory) ListReferrals(_ context.Context) ([]generic.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	return append([]generic.Referral(nil), m.referrals...), nil
}

func (m *Memory) SaveRateProfile(_ context.Context, rp generic.RateProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rp.PrincipalID] = rp.CostPerUnit
	return nil
}

func (m *Memory) RatesFor(_ context.Context, ids []generic.PrincipalID) (map[generic.PrincipalID]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateQueries++
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	result := make(map[generic.PrincipalID]decimal.Decimal, len(ids))
	for _, id := range ids {
		if rate, ok := m.rates[id]; ok {
			result[id] = rate
		}
	}
	return result, nil
}

// =============================================================================
// BACKFILL RUNS
// =============================================================================

func (m *Memory) SaveBackfillRun(_ context.Context, run generic.BackfillRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListBackfillRuns(_ context.Context, limit int) ([]generic.BackfillRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.BackfillRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Reset drops every record. Used by demo scenarios.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[generic.PrincipalID]generic.Subscription)
	m.ledger = make(map[rowKey]generic.LedgerRow)
	m.adjustments = make(map[generic.AdjustmentID]generic.Adjustment)
	m.referrals = nil
	m.rates = make(map[generic.PrincipalID]decimal.Decimal)
	m.runs = nil
	return nil
}
