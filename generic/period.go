package generic

import "time"

// =============================================================================
// PERIOD - Half-open reporting interval
// =============================================================================

// Period is the half-open interval [Start, End). An instant exactly at End
// belongs to the next period.
type Period struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}

// Granularity is the width of a reporting bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// =============================================================================
// TRAILING BUCKETS
// =============================================================================

// TrailingBuckets returns exactly n ordered, contiguous buckets of the given
// granularity, aligned to local calendar days in loc. The last bucket
// contains now.
//
//   - day:   one local calendar day each, ending with today
//   - week:  seven local days each, ending with today
//   - month: one local calendar month each, ending with the current month
func TrailingBuckets(now time.Time, loc *time.Location, g Granularity, n int) []Period {
	if n <= 0 {
		return nil
	}
	buckets := make([]Period, n)
	for i := 0; i < n; i++ {
		back := n - 1 - i
		var start, end time.Time
		switch g {
		case GranularityMonth:
			start = StartOfMonth(now, loc, -back)
			end = StartOfMonth(now, loc, -back+1)
		case GranularityWeek:
			end = StartOfDaysAgo(now, loc, 7*back-1)
			start = StartOfDaysAgo(now, loc, 7*back+6)
		default:
			start = StartOfDaysAgo(now, loc, back)
			end = StartOfDaysAgo(now, loc, back-1)
		}
		buckets[i] = Period{Start: start, End: end, Label: bucketLabel(start, g)}
	}
	return buckets
}

// TrailingDays returns the single period covering the last n local days,
// today included.
func TrailingDays(now time.Time, loc *time.Location, n int) Period {
	return Period{
		Start: StartOfDaysAgo(now, loc, n-1),
		End:   StartOfTomorrow(now, loc),
	}
}

func bucketLabel(start time.Time, g Granularity) string {
	if g == GranularityMonth {
		return start.Format("Jan 2006")
	}
	return start.Format("Jan 2")
}
