package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// Dashboard is one tenant's view of their own spend, in their timezone.
// Everything here is read from that tenant's ledger rows.
type Dashboard struct {
	PrincipalID  generic.PrincipalID
	Timezone     string
	Subscription *generic.Subscription
	TodayRow     generic.LedgerRow

	AllTime    generic.Totals
	Today      generic.Totals
	Last7Days  generic.Totals
	Last30Days generic.Totals

	Charts Charts
}

// BuildDashboard returns a principal's dashboard. Its first view of a local
// day creates that day's ledger row.
func (a *Assembler) BuildDashboard(ctx context.Context, id generic.PrincipalID, now time.Time, loc *time.Location) (*Dashboard, error) {
	start := time.Now()
	d, err := a.buildDashboard(ctx, id, now, loc)
	a.observe("dashboard", start, err)
	return d, err
}

func (a *Assembler) buildDashboard(ctx context.Context, id generic.PrincipalID, now time.Time, loc *time.Location) (*Dashboard, error) {
	if loc == nil {
		loc = generic.DefaultLocation
	}

	today, err := a.reconciler.EnsureToday(ctx, id, now, loc)
	if err != nil {
		return nil, err
	}

	sub, err := a.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, generic.StoreErr("get subscription", err)
	}

	rows, err := a.store.LedgerRowsForPrincipal(ctx, id, "", generic.DateString(now, loc))
	if err != nil {
		return nil, generic.StoreErr("load ledger rows", err)
	}

	events := make([]generic.Event, 0, len(rows))
	for _, row := range rows {
		at, err := generic.ParseDate(row.Date, loc)
		if err != nil {
			a.logger.Warn("ledger row with malformed date",
				slog.String("principal_id", string(id)),
				slog.String("date", row.Date))
			continue
		}
		events = append(events, rowEvent(row, at))
	}

	d := &Dashboard{
		PrincipalID:  id,
		Timezone:     loc.String(),
		Subscription: sub,
		TodayRow:     *today,
		AllTime:      generic.SumAll(events),
		Today:        generic.Sum(events, generic.TrailingDays(now, loc, 1)),
		Last7Days:    generic.Sum(events, generic.TrailingDays(now, loc, 7)),
		Last30Days:   generic.Sum(events, generic.TrailingDays(now, loc, 30)),
	}
	d.Charts, err = buildCharts(ctx, events, now, loc)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// rowEvent turns a ledger row into a subscription-category event. Cost is
// what the tenant spent that day.
func rowEvent(row generic.LedgerRow, at time.Time) generic.Event {
	cost := row.TotalCost()
	return generic.Event{
		At:       at,
		Category: generic.CategorySubscription,
		Amounts: generic.Amounts{
			Revenue:       row.Revenue,
			Cost:          cost,
			Profit:        row.Revenue.Sub(cost),
			RecurringCost: row.BaseCost(),
			MeteredCost:   row.MeteredCostAccrued,
		},
	}
}

// =============================================================================
// USAGE
// =============================================================================

// RecordUsage charges units of metered usage to the principal's row for
// today, at the principal's rate. It returns the amount added.
func (a *Assembler) RecordUsage(ctx context.Context, id generic.PrincipalID, units decimal.Decimal, now time.Time, loc *time.Location) (decimal.Decimal, error) {
	if !units.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: units must be positive", generic.ErrInvalidInput)
	}
	if loc == nil {
		loc = generic.DefaultLocation
	}

	if _, err := a.reconciler.EnsureToday(ctx, id, now, loc); err != nil {
		return decimal.Zero, err
	}
	rate, err := a.rates.RateFor(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	amount := units.Mul(rate)
	if err := a.store.AddMeteredCost(ctx, id, generic.DateString(now, loc), amount); err != nil {
		return decimal.Zero, generic.StoreErr("add metered cost", err)
	}
	return amount, nil
}
