package generic

import (
	"time"
)

// =============================================================================
// TIMEZONE BUCKETING - Local calendar boundaries as absolute instants
// =============================================================================

// DefaultTimezone is used whenever a tenant's timezone is unknown.
const DefaultTimezone = "America/New_York"

const dateLayout = "2006-01-02"

// DefaultLocation is the resolved DefaultTimezone. Falls back to UTC only
// if the host has no tzdata at all.
var DefaultLocation = func() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}()

// ResolveLocation returns the named location, or DefaultLocation when the
// name is empty or unknown. It never fails.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return DefaultLocation
	}
	return loc
}

// StartOfDay returns local midnight of the day containing now.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// StartOfDaysAgo returns local midnight n calendar days before today.
// Uses calendar arithmetic so DST transitions keep days aligned.
func StartOfDaysAgo(now time.Time, loc *time.Location, n int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()-n, 0, 0, 0, 0, loc)
}

// StartOfTomorrow returns the exclusive upper bound of today.
func StartOfTomorrow(now time.Time, loc *time.Location) time.Time {
	return StartOfDaysAgo(now, loc, -1)
}

// StartOfMonth returns local midnight of the first day of now's month,
// shifted by offset months.
func StartOfMonth(now time.Time, loc *time.Location, offset int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
}

// DateString returns the local calendar date of t as YYYY-MM-DD.
func DateString(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// ParseDate returns local midnight of a YYYY-MM-DD date.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, loc)
}

// DaysInMonth returns the number of days of the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysInMonthOf returns the day count of the month a YYYY-MM-DD date falls in.
func DaysInMonthOf(date string) (int, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0, err
	}
	return DaysInMonth(t.Year(), t.Month()), nil
}

// =============================================================================
// CLOCK - Injected at the edges only
// =============================================================================

// Clock supplies "now" to handlers and schedulers. Everything below them
// takes the instant as a parameter.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }
