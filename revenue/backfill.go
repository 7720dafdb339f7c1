package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// =============================================================================
// BACKFILL MODES
// =============================================================================

// Mode selects which ledger rows a backfill pass visits.
type Mode string

const (
	// ModeMissing repairs rows whose recurring base is NULL or zero.
	ModeMissing Mode = "missing"
	// ModeReprice recomputes every historical row. Run it after changing
	// the tier price table to propagate new prices retroactively.
	ModeReprice Mode = "reprice"
)

// ParseMode maps a query value to a mode; empty means ModeMissing.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMissing:
		return ModeMissing, nil
	case ModeReprice:
		return ModeReprice, nil
	default:
		return "", fmt.Errorf("%w: unknown backfill mode %q", generic.ErrInvalidInput, s)
	}
}

// BackfillResult counts what one pass did.
type BackfillResult struct {
	RunID   string
	Scanned int
	Patched int
	Skipped int
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler keeps each ledger row's recurring cost base equal to the tier
// price active on its date divided by that month's day count.
//
// Every write is keyed by (principal, date). Concurrent passes may race on
// the same row, but both write the same deterministic value.
type Reconciler struct {
	store   generic.Store
	pricing *Pricing
	metrics *Metrics
	logger  *slog.Logger
}

func NewReconciler(store generic.Store, pricing *Pricing, metrics *Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, pricing: pricing, metrics: metrics, logger: logger}
}

// EnsureToday creates the principal's row for today's local date if it is
// missing, and patches its recurring base if the tier changed since it was
// written. Safe to call on every read.
func (r *Reconciler) EnsureToday(ctx context.Context, id generic.PrincipalID, now time.Time, loc *time.Location) (*generic.LedgerRow, error) {
	today := generic.DateString(now, loc)

	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, generic.StoreErr("get subscription", err)
	}
	base := r.baseFor(sub, id, today)

	created, err := r.store.EnsureLedgerRow(ctx, generic.LedgerRow{
		PrincipalID:       id,
		Date:              today,
		RecurringCostBase: base,
	})
	if err != nil {
		return nil, generic.StoreErr("ensure ledger row", err)
	}
	if created {
		if r.metrics != nil {
			r.metrics.LedgerRowsCreated.Inc()
		}
		r.logger.Debug("ledger row created",
			slog.String("principal_id", string(id)),
			slog.String("date", today))
	}

	row, err := r.store.GetLedgerRow(ctx, id, today)
	if err != nil {
		return nil, generic.StoreErr("get ledger row", err)
	}
	if row == nil {
		return nil, generic.StoreErr("get ledger row", fmt.Errorf("row %s/%s vanished after insert", id, today))
	}

	if base != nil && !baseEqual(row.RecurringCostBase, *base) {
		if err := r.store.SetRecurringCostBase(ctx, id, today, *base); err != nil {
			return nil, generic.StoreErr("set recurring cost base", err)
		}
		row.RecurringCostBase = generic.DecimalPtr(*base)
	}
	return row, nil
}

// baseFor returns today's recurring base, or nil when the principal has no
// current subscription or an unpriced tier.
func (r *Reconciler) baseFor(sub *generic.Subscription, id generic.PrincipalID, date string) *decimal.Decimal {
	if sub == nil || !sub.IsCurrent() {
		r.logger.Debug("no current subscription, leaving base empty",
			slog.String("principal_id", string(id)))
		return nil
	}
	base, ok := r.pricing.DailyBase(sub.Tier, date)
	if !ok {
		r.logger.Warn("tier has no price",
			slog.String("principal_id", string(id)),
			slog.String("tier", string(sub.Tier)))
		return nil
	}
	return &base
}

// Run is the maintenance pass. It never inserts rows and never touches
// today's row. Rows of principals without a current subscription are
// skipped, not zeroed, so cancellation keeps historical cost. Re-running
// after a successful pass patches nothing.
func (r *Reconciler) Run(ctx context.Context, now time.Time, loc *time.Location, mode Mode) (BackfillResult, error) {
	run := generic.BackfillRun{
		ID:        uuid.NewString(),
		Mode:      string(mode),
		Status:    generic.BackfillRunning,
		StartedAt: now,
	}
	if err := r.store.SaveBackfillRun(ctx, run); err != nil {
		return BackfillResult{}, generic.StoreErr("save backfill run", err)
	}

	started := time.Now()
	result, err := r.run(ctx, now, loc, mode)
	result.RunID = run.ID

	completed := now.Add(time.Since(started))
	run.CompletedAt = &completed
	run.Scanned, run.Patched, run.Skipped = result.Scanned, result.Patched, result.Skipped
	run.Status = generic.BackfillCompleted
	if err != nil {
		run.Status = generic.BackfillFailed
		run.Error = err.Error()
	}
	if r.metrics != nil {
		r.metrics.BackfillRuns.WithLabelValues(string(mode), string(run.Status)).Inc()
		r.metrics.BackfillRows.WithLabelValues(string(mode), "patched").Add(float64(result.Patched))
		r.metrics.BackfillRows.WithLabelValues(string(mode), "skipped").Add(float64(result.Skipped))
	}
	if saveErr := r.store.SaveBackfillRun(ctx, run); saveErr != nil && err == nil {
		err = generic.StoreErr("save backfill run", saveErr)
	}

	r.logger.Info("backfill finished",
		slog.String("run_id", run.ID),
		slog.String("mode", string(mode)),
		slog.Int("scanned", result.Scanned),
		slog.Int("patched", result.Patched),
		slog.Int("skipped", result.Skipped),
		slog.String("status", string(run.Status)))
	return result, err
}

func (r *Reconciler) run(ctx context.Context, now time.Time, loc *time.Location, mode Mode) (BackfillResult, error) {
	var result BackfillResult
	today := generic.DateString(now, loc)

	var (
		rows []generic.LedgerRow
		err  error
	)
	switch mode {
	case ModeReprice:
		rows, err = r.store.HistoricalLedgerRows(ctx, today)
	default:
		rows, err = r.store.LedgerRowsNeedingBackfill(ctx, today)
	}
	if err != nil {
		return result, generic.StoreErr("scan ledger rows", err)
	}
	if len(rows) == 0 {
		return result, nil
	}

	ids := lo.Uniq(lo.Map(rows, func(row generic.LedgerRow, _ int) generic.PrincipalID { return row.PrincipalID }))
	subs, err := r.store.SubscriptionsFor(ctx, ids)
	if err != nil {
		return result, generic.StoreErr("load subscriptions", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		sub, ok := subs[row.PrincipalID]
		if !ok || !sub.IsCurrent() {
			result.Skipped++
			r.logger.Info("skipping row without current subscription",
				slog.String("principal_id", string(row.PrincipalID)),
				slog.String("date", row.Date))
			continue
		}
		value, ok := r.pricing.DailyBase(sub.Tier, row.Date)
		if !ok {
			result.Skipped++
			r.logger.Warn("skipping row with unpriced tier",
				slog.String("principal_id", string(row.PrincipalID)),
				slog.String("tier", string(sub.Tier)))
			continue
		}
		if baseEqual(row.RecurringCostBase, value) {
			continue
		}
		if err := r.store.SetRecurringCostBase(ctx, row.PrincipalID, row.Date, value); err != nil {
			return result, generic.StoreErr("set recurring cost base", err)
		}
		result.Patched++
	}
	return result, nil
}

func baseEqual(stored *decimal.Decimal, value decimal.Decimal) bool {
	return stored != nil && stored.Equal(value)
}
