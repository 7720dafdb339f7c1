package revenue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/generic/store"
	"github.com/warp/revenue-engine/payments"
	"github.com/warp/revenue-engine/revenue"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type reportFixture struct {
	store     *store.Memory
	source    *payments.MemorySource
	pricing   *revenue.Pricing
	assembler *revenue.Assembler
	now       time.Time
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	f := &reportFixture{
		store:   store.NewMemory(),
		source:  payments.NewMemorySource(),
		pricing: revenue.DefaultPricing(),
		now:     june15,
	}
	f.assembler = revenue.NewAssembler(revenue.AssemblerConfig{
		Store:    f.store,
		Fetcher:  payments.NewFetcher(f.source),
		Pricing:  f.pricing,
		Location: time.UTC,
	})
	return f
}

func charge(id, subtype, payer string, amount string, at time.Time) payments.RawTransaction {
	return payments.RawTransaction{
		ID:         id,
		Amount:     dec(amount),
		OccurredAt: at,
		Subtype:    subtype,
		PayerID:    payer,
		Status:     payments.StatusSucceeded,
	}
}

func sumRevenue(buckets []generic.Totals) decimal.Decimal {
	total := decimal.Zero
	for _, b := range buckets {
		total = total.Add(b.Revenue)
	}
	return total
}

// =============================================================================
// ADMIN REPORT
// =============================================================================

func TestAdminReport_CombinesProcessorAndAdjustments(t *testing.T) {
	// GIVEN: A refill today, a subscription payment 10 days ago, and a manual
	// revenue correction 3 days ago
	f := newReportFixture(t)
	ctx := context.Background()
	subscribe(t, f.store, "p-1", "elite", generic.SubscriptionActive)
	require.NoError(t, f.store.SaveRateProfile(ctx, generic.RateProfile{PrincipalID: "p-1", CostPerUnit: dec("0.35")}))
	f.source.Add(
		charge("ch_1", payments.SubtypeBalanceRefill, "p-1", "100", f.now.Add(-time.Hour)),
		charge("ch_2", payments.SubtypeSubscription, "p-1", "899", f.now.AddDate(0, 0, -10)),
	)
	_, err := revenue.NewAdjustmentService(f.store).Create(ctx, revenue.AdjustmentInput{
		Type: generic.AdjustmentRevenue, Category: "Balance Refill", Amount: dec("-50"), Date: "2024-06-12",
	}, f.now)
	require.NoError(t, err)

	// WHEN: Building the report
	report, err := f.assembler.BuildAdminReport(ctx, f.now)
	require.NoError(t, err)

	// THEN: Revenue is processor plus manual
	assertMoney(t, "949.00", report.AllTime.Revenue, "all time")
	assertMoney(t, "100.00", report.Today.Revenue, "today")
	assertMoney(t, "50.00", report.Last7Days.Revenue, "7 days")
	assertMoney(t, "949.00", report.Last30Days.Revenue, "30 days")
	assertMoney(t, "54.14", report.Today.Profit, "today profit")
	assertMoney(t, "50.00", report.Last7Days.ByCategory[generic.CategoryBalanceRefill].Revenue, "refill category")

	// AND: Charts partition the same totals
	require.Len(t, report.Charts.Last7Days, 7)
	require.Len(t, report.Charts.Last30Days, 30)
	require.Len(t, report.Charts.Last12Months, 12)
	assert.True(t, sumRevenue(report.Charts.Last7Days).Equal(report.Last7Days.Revenue))
	assert.True(t, sumRevenue(report.Charts.Last30Days).Equal(report.Last30Days.Revenue))
	assert.True(t, sumRevenue(report.Charts.Last12Months).Equal(report.AllTime.Revenue))

	// AND: Calls come from the processor only
	assertMoney(t, "285.71", report.Calls.UnitsAllTime, "units")
	assert.Equal(t, 1, report.Users.Total)
	assert.Equal(t, 1, report.Users.ByTier["elite"])
}

func TestAdminReport_ReferredSubscriptionPaysCommission(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	subscribe(t, f.store, "p-1", "elite", generic.SubscriptionActive)
	require.NoError(t, f.store.SaveReferral(ctx, generic.Referral{
		RefereeID: "p-1", Status: generic.ReferralConverted, CreatedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}))
	f.source.Add(charge("ch_1", payments.SubtypeSubscription, "p-1", "899", f.now.Add(-time.Hour)))

	report, err := f.assembler.BuildAdminReport(ctx, f.now)

	require.NoError(t, err)
	assertMoney(t, "415.15", report.Today.Profit, "profit less 15% commission")
	assert.Equal(t, 1, report.Users.Referred)
}

func TestAdminReport_ExcludedPrincipalsAreDropped(t *testing.T) {
	f := newReportFixture(t)
	f.pricing.ExcludedPrincipals["p-test"] = struct{}{}
	subscribe(t, f.store, "p-test", "elite", generic.SubscriptionActive)
	subscribe(t, f.store, "p-1", "starter", generic.SubscriptionActive)
	f.source.Add(
		charge("ch_1", payments.SubtypeBalanceRefill, "p-test", "500", f.now.Add(-time.Hour)),
		charge("ch_2", payments.SubtypeBalanceRefill, "p-1", "20", f.now.Add(-time.Hour)),
	)

	report, err := f.assembler.BuildAdminReport(context.Background(), f.now)

	require.NoError(t, err)
	assertMoney(t, "20.00", report.AllTime.Revenue, "only p-1")
	assert.Equal(t, 1, report.Users.Total)
}

func TestAdminReport_ResolvesRatesInOneQuery(t *testing.T) {
	f := newReportFixture(t)
	for i, payer := range []string{"p-1", "p-2", "p-1", "p-3", "p-2"} {
		f.source.Add(charge("ch_"+string(rune('a'+i)), payments.SubtypeBalanceRefill, payer, "10", f.now.Add(-time.Hour)))
	}

	_, err := f.assembler.BuildAdminReport(context.Background(), f.now)

	require.NoError(t, err)
	assert.Equal(t, 1, f.store.RateQueries)
}

func TestAdminReport_PlatformFromLedgerRows(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	seedRow(t, f.store, "p-1", "2024-06-10", generic.DecimalPtr(dec("10")))
	seedRow(t, f.store, "p-1", "2024-03-10", generic.DecimalPtr(dec("5")))
	require.NoError(t, f.store.AddMeteredCost(ctx, "p-1", "2024-06-10", dec("2.5")))

	report, err := f.assembler.BuildAdminReport(ctx, f.now)

	require.NoError(t, err)
	assertMoney(t, "10.00", report.Platform.Last30Days.RecurringCost, "30d recurring")
	assertMoney(t, "2.50", report.Platform.Last30Days.MeteredCost, "30d metered")
	assertMoney(t, "17.50", report.Platform.Last12Months.Total(), "12m total")
	assert.True(t, report.AllTime.Revenue.IsZero(), "ledger rows never feed revenue")
}

func TestAdminReport_FetchFailureIsFatal(t *testing.T) {
	f := newReportFixture(t)
	f.source.FailOnRequest = 1
	f.source.FailWith = errors.New("stripe unavailable")

	report, err := f.assembler.BuildAdminReport(context.Background(), f.now)

	assert.Nil(t, report)
	assert.True(t, generic.IsUpstream(err))
}

func TestAdminReport_StoreFailureIsFatal(t *testing.T) {
	f := newReportFixture(t)
	f.store.FailWith = errors.New("database is locked")

	report, err := f.assembler.BuildAdminReport(context.Background(), f.now)

	assert.Nil(t, report)
	assert.ErrorIs(t, err, generic.ErrDataStore)
}

// =============================================================================
// TENANT DASHBOARD
// =============================================================================

func TestDashboard_CreatesTodayAndSummarizes(t *testing.T) {
	// GIVEN: An elite tenant with one earlier row and today's row missing
	f := newReportFixture(t)
	ctx := context.Background()
	subscribe(t, f.store, "p-1", "elite", generic.SubscriptionActive)
	seedRow(t, f.store, "p-1", "2024-06-14", generic.DecimalPtr(dec("899").Div(dec("30"))))

	// WHEN: The tenant opens the dashboard
	d, err := f.assembler.BuildDashboard(ctx, "p-1", f.now, time.UTC)

	// THEN: Today's row exists and summaries include it
	require.NoError(t, err)
	assert.Equal(t, "2024-06-15", d.TodayRow.Date)
	assertMoney(t, "29.97", d.Today.RecurringCost, "today")
	assertMoney(t, "59.93", d.Last7Days.RecurringCost, "two days")
	require.Len(t, d.Charts.Last30Days, 30)
	require.NotNil(t, d.Subscription)

	row, err := f.store.GetLedgerRow(ctx, "p-1", "2024-06-15")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestRecordUsage_AccruesAtPrincipalRate(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	subscribe(t, f.store, "p-1", "pro", generic.SubscriptionActive)
	require.NoError(t, f.store.SaveRateProfile(ctx, generic.RateProfile{PrincipalID: "p-1", CostPerUnit: dec("0.40")}))

	amount, err := f.assembler.RecordUsage(ctx, "p-1", dec("10"), f.now, time.UTC)
	require.NoError(t, err)
	_, err = f.assembler.RecordUsage(ctx, "p-1", dec("5"), f.now, time.UTC)
	require.NoError(t, err)

	assertMoney(t, "4.00", amount, "10 units")
	row, err := f.store.GetLedgerRow(ctx, "p-1", "2024-06-15")
	require.NoError(t, err)
	assertMoney(t, "6.00", row.MeteredCostAccrued, "15 units")

	_, err = f.assembler.RecordUsage(ctx, "p-1", decimal.Zero, f.now, time.UTC)
	assert.True(t, generic.IsClientError(err))
}

// =============================================================================
// RATE RESOLVER
// =============================================================================

func TestRateResolver_DefaultsMissingProfiles(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.SaveRateProfile(ctx, generic.RateProfile{PrincipalID: "p-1", CostPerUnit: dec("0.25")}))
	require.NoError(t, s.SaveRateProfile(ctx, generic.RateProfile{PrincipalID: "p-bad", CostPerUnit: decimal.Zero}))
	r := revenue.NewRateResolver(s, revenue.DefaultPricing(), nil)

	rates, err := r.Resolve(ctx, []generic.PrincipalID{"p-1", "p-2", "p-1", "", "p-bad"})

	require.NoError(t, err)
	assert.Len(t, rates, 3)
	assert.True(t, rates["p-1"].Equal(dec("0.25")))
	assert.True(t, rates["p-2"].Equal(dec("0.35")))
	assert.True(t, rates["p-bad"].Equal(dec("0.35")))
	assert.Equal(t, 1, s.RateQueries)
}

func TestRateResolver_StoreErrorIsFatal(t *testing.T) {
	s := store.NewMemory()
	s.FailWith = errors.New("boom")
	r := revenue.NewRateResolver(s, revenue.DefaultPricing(), nil)

	_, err := r.Resolve(context.Background(), []generic.PrincipalID{"p-1"})

	assert.ErrorIs(t, err, generic.ErrDataStore)
}
