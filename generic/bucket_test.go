package generic_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/revenue-engine/generic"
)

func revenueEvent(at time.Time, c generic.Category, amount string) generic.Event {
	return generic.Event{
		At:       at,
		Category: c,
		Amounts:  generic.Amounts{Revenue: decimal.RequireFromString(amount)},
	}
}

// =============================================================================
// TRAILING BUCKETS
// =============================================================================

func TestTrailingBuckets_Contiguous(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	now := time.Date(2024, time.March, 15, 9, 0, 0, 0, ny)

	for _, tc := range []struct {
		g generic.Granularity
		n int
	}{
		{generic.GranularityDay, 30},
		{generic.GranularityWeek, 8},
		{generic.GranularityMonth, 12},
	} {
		t.Run(string(tc.g), func(t *testing.T) {
			buckets := generic.TrailingBuckets(now, ny, tc.g, tc.n)

			require.Len(t, buckets, tc.n)
			assert.True(t, buckets[tc.n-1].Contains(now), "last bucket must contain now")
			for i := 1; i < len(buckets); i++ {
				assert.Equal(t, buckets[i-1].End, buckets[i].Start, "bucket %d must start where %d ends", i, i-1)
			}
			for _, b := range buckets {
				assert.Equal(t, 0, b.Start.In(ny).Hour(), "bucket starts at local midnight")
			}
		})
	}
}

func TestTrailingBuckets_Labels(t *testing.T) {
	now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

	months := generic.TrailingBuckets(now, time.UTC, generic.GranularityMonth, 12)
	assert.Equal(t, "Jul 2023", months[0].Label)
	assert.Equal(t, "Jun 2024", months[11].Label)

	days := generic.TrailingBuckets(now, time.UTC, generic.GranularityDay, 7)
	assert.Equal(t, "Jun 4", days[0].Label)
	assert.Equal(t, "Jun 10", days[6].Label)

	assert.Nil(t, generic.TrailingBuckets(now, time.UTC, generic.GranularityDay, 0))
}

// =============================================================================
// AGGREGATION
// =============================================================================

func TestAggregate_BucketSumEqualsRawSum(t *testing.T) {
	// GIVEN: Events spread across the last 30 local days
	ny := mustLoad(t, "America/New_York")
	now := time.Date(2024, time.June, 30, 18, 0, 0, 0, ny)

	var events []generic.Event
	raw := decimal.Zero
	for i := 0; i < 30; i++ {
		at := generic.StartOfDaysAgo(now, ny, i).Add(time.Duration(i%24) * time.Hour)
		amount := decimal.NewFromInt(int64(i + 1)).Div(decimal.NewFromInt(3))
		events = append(events, generic.Event{At: at, Category: generic.CategoryBalanceRefill, Amounts: generic.Amounts{Revenue: amount}})
		raw = raw.Add(amount)
	}

	// WHEN: Aggregating into daily and weekly buckets
	daily := generic.Aggregate(events, generic.TrailingBuckets(now, ny, generic.GranularityDay, 30))

	// THEN: The buckets sum to exactly the raw total
	sum := decimal.Zero
	for _, b := range daily {
		sum = sum.Add(b.Revenue)
	}
	assert.True(t, raw.Equal(sum), "raw %s != bucketed %s", raw, sum)

	whole := generic.Sum(events, generic.TrailingDays(now, ny, 30))
	assert.True(t, raw.Equal(whole.Revenue))
	assert.True(t, raw.Equal(whole.ByCategory[generic.CategoryBalanceRefill].Revenue))
}

func TestAggregate_LocalMidnightLandsInExactlyOneBucket(t *testing.T) {
	// GIVEN: A transaction at exactly local midnight of June 5
	ny := mustLoad(t, "America/New_York")
	now := time.Date(2024, time.June, 7, 12, 0, 0, 0, ny)
	midnight := time.Date(2024, time.June, 5, 0, 0, 0, 0, ny)

	// WHEN: Aggregated into day buckets
	buckets := generic.TrailingBuckets(now, ny, generic.GranularityDay, 7)
	totals := generic.Aggregate([]generic.Event{revenueEvent(midnight, generic.CategorySubscription, "10")}, buckets)

	// THEN: Exactly one bucket holds it, and it is the June 5 bucket
	hits := 0
	for _, b := range totals {
		if !b.Revenue.IsZero() {
			hits++
			assert.Equal(t, "Jun 5", b.Period.Label)
		}
	}
	assert.Equal(t, 1, hits)
}

func TestAggregate_EqualOffsetZonesAgree(t *testing.T) {
	// GIVEN: Two zones with the same UTC offset in June (both UTC-4)
	ny := mustLoad(t, "America/New_York")
	toronto := mustLoad(t, "America/Toronto")
	now := time.Date(2024, time.June, 20, 12, 0, 0, 0, time.UTC)

	var events []generic.Event
	for h := 0; h < 24*10; h += 5 {
		events = append(events, revenueEvent(now.Add(-time.Duration(h)*time.Hour), generic.CategoryOther, "1"))
	}

	// WHEN: Bucketing in each zone
	a := generic.Aggregate(events, generic.TrailingBuckets(now, ny, generic.GranularityDay, 10))
	b := generic.Aggregate(events, generic.TrailingBuckets(now, toronto, generic.GranularityDay, 10))

	// THEN: Every bucket holds the same amount
	require.Len(t, b, len(a))
	for i := range a {
		assert.True(t, a[i].Revenue.Equal(b[i].Revenue), "bucket %d differs", i)
	}
}

func TestAggregate_ZeroFillsAndIgnoresOutside(t *testing.T) {
	now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	buckets := generic.TrailingBuckets(now, time.UTC, generic.GranularityDay, 3)

	totals := generic.Aggregate([]generic.Event{
		revenueEvent(now.AddDate(0, 0, -30), generic.CategoryOther, "5"),
		revenueEvent(now.AddDate(0, 0, 2), generic.CategoryOther, "5"),
	}, buckets)

	require.Len(t, totals, 3)
	for _, b := range totals {
		assert.True(t, b.Revenue.IsZero())
	}
}

// =============================================================================
// DAILY TOTALS
// =============================================================================

func TestDailyTotals_EventsStampedAtLocalMidnight(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	d := generic.DailyTotals{}
	d.AddEvent(revenueEvent(time.Date(2024, time.June, 2, 3, 0, 0, 0, time.UTC), generic.CategoryBalanceRefill, "100"), ny)
	d.Add("2024-06-01", generic.CategorySubscription, generic.Amounts{Revenue: decimal.NewFromInt(50)})
	d.Add("not-a-date", generic.CategoryOther, generic.Amounts{Revenue: decimal.NewFromInt(1)})

	assert.Equal(t, []string{"2024-06-01", "not-a-date"}, d.Dates())
	assert.True(t, d["2024-06-01"].Revenue.Equal(decimal.NewFromInt(150)))

	events := d.Events(ny)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, ny), e.At)
	}
}
