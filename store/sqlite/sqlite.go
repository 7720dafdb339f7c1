/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  subscriptions:  One row per paying principal
  ledger_rows:    Daily cost/revenue rows, UNIQUE(principal_id, date)
  adjustments:    Manual administrator entries
  referrals:      Referral attribution
  rate_profiles:  Per-principal metered rate
  backfill_runs:  History of backfill passes

ROW-SCOPED WRITES:
  Ledger writes are keyed by (principal_id, date). Inserts use
  ON CONFLICT DO NOTHING so lazy creation never duplicates a row, and
  backfill updates touch exactly one row. No statement locks the table.

MONEY:
  Decimal amounts are stored as TEXT and parsed with shopspring/decimal
  so no float rounding is introduced by the store.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block.

USAGE:
  store, err := sqlite.New("./data/revenue.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// Store implements generic.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// parseTimestamp reads an RFC3339 column. A corrupt value is a scan error,
// never the zero time.
func parseTimestamp(column, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to scan %s %q: %w", column, value, err)
	}
	return t, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Subscriptions (one per principal)
	CREATE TABLE IF NOT EXISTS subscriptions (
		principal_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		current_period_end TEXT,
		external_subscription_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_status
		ON subscriptions(status);

	-- Daily ledger rows
	CREATE TABLE IF NOT EXISTS ledger_rows (
		principal_id TEXT NOT NULL,
		date TEXT NOT NULL,
		revenue TEXT NOT NULL DEFAULT '0',
		recurring_cost_base TEXT,
		metered_cost_accrued TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (principal_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_rows_date
		ON ledger_rows(date);

	-- Manual adjustments
	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_date
		ON adjustments(date);

	-- Referrals
	CREATE TABLE IF NOT EXISTS referrals (
		referee_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_referrals_referee
		ON referrals(referee_id);

	-- Rate profiles
	CREATE TABLE IF NOT EXISTS rate_profiles (
		principal_id TEXT PRIMARY KEY,
		cost_per_unit TEXT NOT NULL
	);

	-- Backfill runs
	CREATE TABLE IF NOT EXISTS backfill_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		scanned INTEGER DEFAULT 0,
		patched INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_backfill_runs_started
		ON backfill_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SUBSCRIPTION STORE
// =============================================================================

// SaveSubscription inserts or replaces the principal's subscription.
func (s *Store) SaveSubscription(ctx context.Context, sub generic.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO subscriptions
		(principal_id, tier, status, created_at, current_period_end, external_subscription_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			tier = excluded.tier,
			status = excluded.status,
			created_at = excluded.created_at,
			current_period_end = excluded.current_period_end,
			external_subscription_id = excluded.external_subscription_id
	`

	_, err := s.db.ExecContext(ctx, query,
		sub.PrincipalID,
		sub.Tier,
		sub.Status,
		sub.CreatedAt.UTC().Format(time.RFC3339),
		formatTime(sub.CurrentPeriodEnd),
		nullString(sub.ExternalSubscriptionID),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a principal's subscription.
func (s *Store) GetSubscription(ctx context.Context, id generic.PrincipalID) (*generic.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs, err := s.querySubscriptions(ctx, subscriptionSelect+" WHERE principal_id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

// ListSubscriptions returns all subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context) ([]generic.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySubscriptions(ctx, subscriptionSelect+" ORDER BY principal_id")
}

// SubscriptionsFor batch-loads subscriptions in one query.
func (s *Store) SubscriptionsFor(ctx context.Context, ids []generic.PrincipalID) (map[generic.PrincipalID]generic.Subscription, error) {
	result := make(map[generic.PrincipalID]generic.Subscription, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := subscriptionSelect + " WHERE principal_id IN (" + placeholders(len(ids)) + ")"
	subs, err := s.querySubscriptions(ctx, query, principalArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		result[sub.PrincipalID] = sub
	}
	return result, nil
}

const subscriptionSelect = `
	SELECT principal_id, tier, status, created_at, current_period_end, external_subscription_id
	FROM subscriptions`

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]generic.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []generic.Subscription
	for rows.Next() {
		var (
			sub              generic.Subscription
			createdAt        string
			currentPeriodEnd sql.NullString
			externalID       sql.NullString
		)
		if err := rows.Scan(&sub.PrincipalID, &sub.Tier, &sub.Status, &createdAt, &currentPeriodEnd, &externalID); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if sub.CreatedAt, err = parseTimestamp("subscription created_at", createdAt); err != nil {
			return nil, err
		}
		if currentPeriodEnd.Valid {
			if sub.CurrentPeriodEnd, err = parseTimestamp("subscription current_period_end", currentPeriodEnd.String); err != nil {
				return nil, err
			}
		}
		sub.ExternalSubscriptionID = externalID.String
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// EnsureLedgerRow inserts the row unless (principal_id, date) exists.
func (s *Store) EnsureLedgerRow(ctx context.Context, row generic.LedgerRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ledger_rows
		(principal_id, date, revenue, recurring_cost_base, metered_cost_accrued, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id, date) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		row.PrincipalID,
		row.Date,
		row.Revenue.String(),
		nullDecimal(row.RecurringCostBase),
		row.MeteredCostAccrued.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure ledger row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetLedgerRow returns a single row.
func (s *Store) GetLedgerRow(ctx context.Context, id generic.PrincipalID, date string) (*generic.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryLedgerRows(ctx, ledgerSelect+" WHERE principal_id = ? AND date = ?", id, date)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// LedgerRowsForPrincipal returns one principal's rows in [from, to].
func (s *Store) LedgerRowsForPrincipal(ctx context.Context, id generic.PrincipalID, from, to string) ([]generic.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := ledgerSelect + `
		WHERE principal_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`
	return s.queryLedgerRows(ctx, query, id, from, to)
}

// LedgerRowsInRange returns every principal's rows in [from, to].
func (s *Store) LedgerRowsInRange(ctx context.Context, from, to string) ([]generic.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := ledgerSelect + `
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, principal_id ASC`
	return s.queryLedgerRows(ctx, query, from, to)
}

// LedgerRowsNeedingBackfill returns rows with a NULL or zero base.
func (s *Store) LedgerRowsNeedingBackfill(ctx context.Context, excludeDate string) ([]generic.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := ledgerSelect + `
		WHERE date <> ?
		  AND (recurring_cost_base IS NULL OR CAST(recurring_cost_base AS REAL) = 0)
		ORDER BY date ASC, principal_id ASC`
	return s.queryLedgerRows(ctx, query, excludeDate)
}

// HistoricalLedgerRows returns every row not dated excludeDate.
func (s *Store) HistoricalLedgerRows(ctx context.Context, excludeDate string) ([]generic.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := ledgerSelect + `
		WHERE date <> ?
		ORDER BY date ASC, principal_id ASC`
	return s.queryLedgerRows(ctx, query, excludeDate)
}

// SetRecurringCostBase updates exactly one row.
func (s *Store) SetRecurringCostBase(ctx context.Context, id generic.PrincipalID, date string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE ledger_rows
		SET recurring_cost_base = ?, updated_at = ?
		WHERE principal_id = ? AND date = ?`,
		value.String(), time.Now().UTC().Format(time.RFC3339), id, date,
	)
	if err != nil {
		return fmt.Errorf("failed to set recurring cost base: %w", err)
	}
	return nil
}

// AddMeteredCost adds amount to one row, creating it if needed.
// The read-modify-write runs in one transaction so decimals never pass
// through SQLite's REAL arithmetic.
func (s *Store) AddMeteredCost(ctx context.Context, id generic.PrincipalID, date string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var current sql.NullString
	err = sqlTx.QueryRowContext(ctx,
		"SELECT metered_cost_accrued FROM ledger_rows WHERE principal_id = ? AND date = ?",
		id, date,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read metered cost: %w", err)
	}
	total := generic.MustParseDecimal(current.String).Add(amount)

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO ledger_rows (principal_id, date, revenue, metered_cost_accrued, updated_at)
		VALUES (?, ?, '0', ?, ?)
		ON CONFLICT(principal_id, date) DO UPDATE SET
			metered_cost_accrued = excluded.metered_cost_accrued,
			updated_at = excluded.updated_at`,
		id, date, total.String(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to add metered cost: %w", err)
	}

	return sqlTx.Commit()
}

const ledgerSelect = `
	SELECT principal_id, date, revenue, recurring_cost_base, metered_cost_accrued
	FROM ledger_rows`

func (s *Store) queryLedgerRows(ctx context.Context, query string, args ...any) ([]generic.LedgerRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger rows: %w", err)
	}
	defer rows.Close()

	var result []generic.LedgerRow
	for rows.Next() {
		var (
			row     generic.LedgerRow
			revenue string
			base    sql.NullString
			metered string
		)
		if err := rows.Scan(&row.PrincipalID, &row.Date, &revenue, &base, &metered); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		row.Revenue = generic.MustParseDecimal(revenue)
		row.MeteredCostAccrued = generic.MustParseDecimal(metered)
		if base.Valid {
			row.RecurringCostBase = generic.DecimalPtr(generic.MustParseDecimal(base.String))
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

// CreateAdjustment inserts a new adjustment.
func (s *Store) CreateAdjustment(ctx context.Context, adj generic.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO adjustments (id, type, category, amount, date, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		adj.ID, adj.Type, adj.Category, adj.Amount.String(), adj.Date, adj.Description,
		adj.CreatedAt.UTC().Format(time.RFC3339), adj.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create adjustment: %w", err)
	}
	return nil
}

// UpdateAdjustment edits an existing adjustment in place.
func (s *Store) UpdateAdjustment(ctx context.Context, adj generic.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE adjustments
		SET type = ?, category = ?, amount = ?, date = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		adj.Type, adj.Category, adj.Amount.String(), adj.Date, adj.Description,
		adj.UpdatedAt.UTC().Format(time.RFC3339), adj.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update adjustment: %w", err)
	}
	return requireAffected(res)
}

// DeleteAdjustment removes an adjustment.
func (s *Store) DeleteAdjustment(ctx context.Context, id generic.AdjustmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM adjustments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete adjustment: %w", err)
	}
	return requireAffected(res)
}

// GetAdjustment retrieves an adjustment by ID.
func (s *Store) GetAdjustment(ctx context.Context, id generic.AdjustmentID) (*generic.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adjs, err := s.queryAdjustments(ctx, adjustmentSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(adjs) == 0 {
		return nil, nil
	}
	return &adjs[0], nil
}

// ListAdjustments returns adjustments in [from, to]; empty bounds are open.
func (s *Store) ListAdjustments(ctx context.Context, from, to string) ([]generic.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if from != "" {
		where = append(where, "date >= ?")
		args = append(args, from)
	}
	if to != "" {
		where = append(where, "date <= ?")
		args = append(args, to)
	}

	query := adjustmentSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"

	return s.queryAdjustments(ctx, query, args...)
}

const adjustmentSelect = `
	SELECT id, type, category, amount, date, description, created_at, updated_at
	FROM adjustments`

func (s *Store) queryAdjustments(ctx context.Context, query string, args ...any) ([]generic.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var adjs []generic.Adjustment
	for rows.Next() {
		var (
			adj                  generic.Adjustment
			amount               string
			description          sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&adj.ID, &adj.Type, &adj.Category, &amount, &adj.Date, &description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		adj.Amount = generic.MustParseDecimal(amount)
		adj.Description = description.String
		if adj.CreatedAt, err = parseTimestamp("adjustment created_at", createdAt); err != nil {
			return nil, err
		}
		if adj.UpdatedAt, err = parseTimestamp("adjustment updated_at", updatedAt); err != nil {
			return nil, err
		}
		adjs = append(adjs, adj)
	}
	return adjs, rows.Err()
}

// =============================================================================
// REFERRAL STORE
// =============================================================================

// SaveReferral records a referral.
func (s *Store) SaveReferral(ctx context.Context, ref generic.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO referrals (referee_id, status, created_at) VALUES (?, ?, ?)",
		ref.RefereeID, ref.Status, ref.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save referral: %w", err)
	}
	return nil
}

// ListReferrals returns all referrals.
func (s *Store) ListReferrals(ctx context.Context) ([]generic.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT referee_id, status, created_at FROM referrals ORDER BY created_at ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals: %w", err)
	}
	defer rows.Close()

	var refs []generic.Referral
	for rows.Next() {
		var ref generic.Referral
		var createdAt string
		if err := rows.Scan(&ref.RefereeID, &ref.Status, &createdAt); err != nil {
			return nil, err
		}
		if ref.CreatedAt, err = parseTimestamp("referral created_at", createdAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// =============================================================================
// RATE STORE
// =============================================================================

// SaveRateProfile inserts or replaces a principal's rate.
func (s *Store) SaveRateProfile(ctx context.Context, rp generic.RateProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_profiles (principal_id, cost_per_unit) VALUES (?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET cost_per_unit = excluded.cost_per_unit`,
		rp.PrincipalID, rp.CostPerUnit.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate profile: %w", err)
	}
	return nil
}

// RatesFor batch-loads rates in a single query.
func (s *Store) RatesFor(ctx context.Context, ids []generic.PrincipalID) (map[generic.PrincipalID]decimal.Decimal, error) {
	result := make(map[generic.PrincipalID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT principal_id, cost_per_unit FROM rate_profiles WHERE principal_id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.db.QueryContext(ctx, query, principalArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id generic.PrincipalID
		var rate string
		if err := rows.Scan(&id, &rate); err != nil {
			return nil, err
		}
		result[id] = generic.MustParseDecimal(rate)
	}
	return result, rows.Err()
}

// =============================================================================
// BACKFILL RUNS STORE
// =============================================================================

// SaveBackfillRun inserts or updates a run record.
func (s *Store) SaveBackfillRun(ctx context.Context, r generic.BackfillRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO backfill_runs (id, mode, status, scanned, patched, skipped, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			scanned = excluded.scanned,
			patched = excluded.patched,
			skipped = excluded.skipped,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		c := r.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Mode, r.Status, r.Scanned, r.Patched, r.Skipped, nullString(r.Error),
		r.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save backfill run: %w", err)
	}
	return nil
}

// ListBackfillRuns returns the most recent runs first.
func (s *Store) ListBackfillRuns(ctx context.Context, limit int) ([]generic.BackfillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, status, scanned, patched, skipped, error, started_at, completed_at
		FROM backfill_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backfill runs: %w", err)
	}
	defer rows.Close()

	var runs []generic.BackfillRun
	for rows.Next() {
		var (
			r                   generic.BackfillRun
			runErr, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &r.Scanned, &r.Patched, &r.Skipped, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = runErr.String
		if r.StartedAt, err = parseTimestamp("backfill run started_at", startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t, err := parseTimestamp("backfill run completed_at", completedAt.String)
			if err != nil {
				return nil, err
			}
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"subscriptions", "ledger_rows", "adjustments", "referrals", "rate_profiles", "backfill_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func principalArgs(ids []generic.PrincipalID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	return args
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrAdjustmentNotFound
	}
	return nil
}
