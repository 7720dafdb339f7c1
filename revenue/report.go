package revenue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/payments"
	"golang.org/x/sync/errgroup"
)

// TransactionFetcher is the processor listing as the assembler sees it.
type TransactionFetcher interface {
	Fetch(ctx context.Context, subtype string, since time.Time) ([]payments.Record, error)
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// Charts are the three trailing series every report carries.
type Charts struct {
	Last7Days    []generic.Totals
	Last30Days   []generic.Totals
	Last12Months []generic.Totals
}

// UserStats is sourced wholly from the store.
type UserStats struct {
	Total         int
	Active        int
	ByTier        map[generic.Tier]int
	Referred      int
	NewLast30Days int
}

// LedgerCost is recurring and metered cost summed from ledger rows.
type LedgerCost struct {
	RecurringCost decimal.Decimal
	MeteredCost   decimal.Decimal
}

func (c LedgerCost) Total() decimal.Decimal { return c.RecurringCost.Add(c.MeteredCost) }

// PlatformStats is sourced wholly from ledger rows.
type PlatformStats struct {
	Last30Days   LedgerCost
	Last12Months LedgerCost
}

// CallStats is sourced wholly from processor refills.
type CallStats struct {
	UnitsAllTime    decimal.Decimal
	UnitsLast30Days decimal.Decimal
}

// AdminReport is the platform-wide financial report.
//
// Revenue, cost and profit are processor plus manual adjustments, added.
// Users come only from the store, Platform only from ledger rows and Calls
// only from the processor.
type AdminReport struct {
	GeneratedAt time.Time
	Timezone    string

	AllTime    generic.Totals
	Today      generic.Totals
	Last7Days  generic.Totals
	Last30Days generic.Totals

	Charts   Charts
	Users    UserStats
	Platform PlatformStats
	Calls    CallStats
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler builds the admin report and the tenant dashboard.
type Assembler struct {
	store      generic.Store
	fetcher    TransactionFetcher
	rates      *RateResolver
	calc       Calculator
	pricing    *Pricing
	reconciler *Reconciler
	loc        *time.Location
	metrics    *Metrics
	logger     *slog.Logger
}

// AssemblerConfig wires an Assembler. Location is the admin report's
// timezone; tenant dashboards pass their own.
type AssemblerConfig struct {
	Store    generic.Store
	Fetcher  TransactionFetcher
	Pricing  *Pricing
	Location *time.Location
	Metrics  *Metrics
	Logger   *slog.Logger
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing()
	}
	if cfg.Location == nil {
		cfg.Location = generic.DefaultLocation
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		rates:      NewRateResolver(cfg.Store, cfg.Pricing, cfg.Logger),
		calc:       NewCalculator(cfg.Pricing),
		pricing:    cfg.Pricing,
		reconciler: NewReconciler(cfg.Store, cfg.Pricing, cfg.Metrics, cfg.Logger),
		loc:        cfg.Location,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

func (a *Assembler) Reconciler() *Reconciler { return a.reconciler }
func (a *Assembler) Location() *time.Location { return a.loc }
func (a *Assembler) Pricing() *Pricing { return a.pricing }

// reportInputs is everything loaded in the fan-out step.
type reportInputs struct {
	refills       []payments.Record
	subscriptions []payments.Record
	subs          []generic.Subscription
	referrals     []generic.Referral
	adjustments   []generic.Adjustment
	rows          []generic.LedgerRow
}

// BuildAdminReport assembles the platform-wide report as of now. Any store
// or processor failure fails the whole report; there are no partial
// reports.
func (a *Assembler) BuildAdminReport(ctx context.Context, now time.Time) (*AdminReport, error) {
	start := time.Now()
	report, err := a.buildAdminReport(ctx, now)
	a.observe("admin", start, err)
	return report, err
}

func (a *Assembler) buildAdminReport(ctx context.Context, now time.Time) (*AdminReport, error) {
	in, err := a.load(ctx, now)
	if err != nil {
		return nil, err
	}

	// Excluded principals never reach aggregation.
	in.refills = lo.Filter(in.refills, func(r payments.Record, _ int) bool {
		return !a.pricing.Excluded(generic.PrincipalID(r.AttributionID))
	})
	in.subscriptions = lo.Filter(in.subscriptions, func(r payments.Record, _ int) bool {
		return !a.pricing.Excluded(generic.PrincipalID(r.AttributionID))
	})
	in.subs = lo.Filter(in.subs, func(s generic.Subscription, _ int) bool { return !a.pricing.Excluded(s.PrincipalID) })
	in.rows = lo.Filter(in.rows, func(r generic.LedgerRow, _ int) bool { return !a.pricing.Excluded(r.PrincipalID) })

	payers := lo.Map(in.refills, func(r payments.Record, _ int) generic.PrincipalID {
		return generic.PrincipalID(r.AttributionID)
	})
	rates, err := a.rates.Resolve(ctx, payers)
	if err != nil {
		return nil, err
	}

	subsByID := lo.KeyBy(in.subs, func(s generic.Subscription) generic.PrincipalID { return s.PrincipalID })
	refsByID := lo.GroupBy(in.referrals, func(r generic.Referral) generic.PrincipalID { return r.RefereeID })

	daily := generic.DailyTotals{}
	calls := CallStats{UnitsAllTime: decimal.Zero, UnitsLast30Days: decimal.Zero}
	last30 := generic.TrailingDays(now, a.loc, 30)

	for _, r := range in.refills {
		f := a.calc.Metered(r.Amount, rates[generic.PrincipalID(r.AttributionID)])
		daily.AddEvent(generic.Event{At: r.OccurredAt, Category: generic.CategoryBalanceRefill, Amounts: f.Amounts()}, a.loc)
		calls.UnitsAllTime = calls.UnitsAllTime.Add(f.Units)
		if last30.Contains(r.OccurredAt) {
			calls.UnitsLast30Days = calls.UnitsLast30Days.Add(f.Units)
		}
	}

	for _, r := range in.subscriptions {
		id := generic.PrincipalID(r.AttributionID)
		sub, ok := subsByID[id]
		if !ok {
			a.logger.Debug("subscription payment without subscription record",
				slog.String("transaction_id", r.ID),
				slog.String("principal_id", r.AttributionID))
		}
		f := a.calc.Subscription(r.Amount, sub.Tier, referredAt(refsByID[id], r.OccurredAt), r.FirstOccurrence)
		daily.AddEvent(generic.Event{At: r.OccurredAt, Category: generic.CategorySubscription, Amounts: f.Amounts()}, a.loc)
	}

	merged := Merge(daily, in.adjustments, a.calc)
	events := merged.Events(a.loc)

	report := &AdminReport{
		GeneratedAt: now,
		Timezone:    a.loc.String(),
		AllTime:     generic.SumAll(events),
		Today:       generic.Sum(events, generic.TrailingDays(now, a.loc, 1)),
		Last7Days:   generic.Sum(events, generic.TrailingDays(now, a.loc, 7)),
		Last30Days:  generic.Sum(events, last30),
		Users:       a.userStats(in.subs, refsByID, now),
		Platform:    a.platformStats(in.rows, now),
		Calls:       calls,
	}

	charts, err := buildCharts(ctx, events, now, a.loc)
	if err != nil {
		return nil, err
	}
	report.Charts = charts
	return report, nil
}

// load fetches every input concurrently. The first failure cancels the
// rest.
func (a *Assembler) load(ctx context.Context, now time.Time) (*reportInputs, error) {
	in := &reportInputs{}
	from := generic.DateString(generic.StartOfMonth(now, a.loc, -11), a.loc)
	to := generic.DateString(now, a.loc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.refills, err = a.fetcher.Fetch(gctx, payments.SubtypeBalanceRefill, a.pricing.LaunchDate)
		return err
	})
	g.Go(func() (err error) {
		in.subscriptions, err = a.fetcher.Fetch(gctx, payments.SubtypeSubscription, a.pricing.LaunchDate)
		return err
	})
	g.Go(func() (err error) {
		in.subs, err = a.store.ListSubscriptions(gctx)
		return generic.StoreErr("list subscriptions", err)
	})
	g.Go(func() (err error) {
		in.referrals, err = a.store.ListReferrals(gctx)
		return generic.StoreErr("list referrals", err)
	})
	g.Go(func() (err error) {
		in.adjustments, err = a.store.ListAdjustments(gctx, "", "")
		return generic.StoreErr("list adjustments", err)
	})
	g.Go(func() (err error) {
		in.rows, err = a.store.LedgerRowsInRange(gctx, from, to)
		return generic.StoreErr("load ledger rows", err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// buildCharts aggregates the three series in parallel.
func buildCharts(ctx context.Context, events []generic.Event, now time.Time, loc *time.Location) (Charts, error) {
	var charts Charts
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		charts.Last7Days = generic.Aggregate(events, generic.TrailingBuckets(now, loc, generic.GranularityDay, 7))
		return nil
	})
	g.Go(func() error {
		charts.Last30Days = generic.Aggregate(events, generic.TrailingBuckets(now, loc, generic.GranularityDay, 30))
		return nil
	})
	g.Go(func() error {
		charts.Last12Months = generic.Aggregate(events, generic.TrailingBuckets(now, loc, generic.GranularityMonth, 12))
		return nil
	})
	return charts, g.Wait()
}

// referredAt reports whether any referral attributes a period starting at.
func referredAt(refs []generic.Referral, at time.Time) bool {
	return lo.SomeBy(refs, func(r generic.Referral) bool { return r.Attributes(at) })
}

func (a *Assembler) userStats(subs []generic.Subscription, refs map[generic.PrincipalID][]generic.Referral, now time.Time) UserStats {
	stats := UserStats{Total: len(subs), ByTier: make(map[generic.Tier]int)}
	newSince := generic.StartOfDaysAgo(now, a.loc, 29)
	for _, s := range subs {
		if s.IsCurrent() {
			stats.Active++
			stats.ByTier[s.Tier]++
		}
		if referredAt(refs[s.PrincipalID], now) {
			stats.Referred++
		}
		if !s.CreatedAt.Before(newSince) && !s.CreatedAt.After(now) {
			stats.NewLast30Days++
		}
	}
	return stats
}

func (a *Assembler) platformStats(rows []generic.LedgerRow, now time.Time) PlatformStats {
	since30 := generic.DateString(generic.StartOfDaysAgo(now, a.loc, 29), a.loc)
	stats := PlatformStats{
		Last30Days:   LedgerCost{RecurringCost: decimal.Zero, MeteredCost: decimal.Zero},
		Last12Months: LedgerCost{RecurringCost: decimal.Zero, MeteredCost: decimal.Zero},
	}
	for _, r := range rows {
		stats.Last12Months.RecurringCost = stats.Last12Months.RecurringCost.Add(r.BaseCost())
		stats.Last12Months.MeteredCost = stats.Last12Months.MeteredCost.Add(r.MeteredCostAccrued)
		if r.Date >= since30 {
			stats.Last30Days.RecurringCost = stats.Last30Days.RecurringCost.Add(r.BaseCost())
			stats.Last30Days.MeteredCost = stats.Last30Days.MeteredCost.Add(r.MeteredCostAccrued)
		}
	}
	return stats
}

func (a *Assembler) observe(report string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.ReportDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	cause := "other"
	switch {
	case errors.Is(err, generic.ErrUpstreamFetch):
		cause = "upstream"
	case errors.Is(err, generic.ErrDataStore):
		cause = "store"
	}
	a.metrics.ReportFailures.WithLabelValues(report, cause).Inc()
}
