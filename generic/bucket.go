package generic

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNTS - The measures every bucket carries
// =============================================================================

// Amounts is the set of measures summed per bucket. All values are
// unrounded.
type Amounts struct {
	Revenue       decimal.Decimal
	Cost          decimal.Decimal
	Profit        decimal.Decimal
	Units         decimal.Decimal
	RecurringCost decimal.Decimal
	MeteredCost   decimal.Decimal
}

func (a Amounts) Add(b Amounts) Amounts {
	return Amounts{
		Revenue:       a.Revenue.Add(b.Revenue),
		Cost:          a.Cost.Add(b.Cost),
		Profit:        a.Profit.Add(b.Profit),
		Units:         a.Units.Add(b.Units),
		RecurringCost: a.RecurringCost.Add(b.RecurringCost),
		MeteredCost:   a.MeteredCost.Add(b.MeteredCost),
	}
}

// Value returns a single metric.
func (a Amounts) Value(m Metric) decimal.Decimal {
	switch m {
	case MetricCost:
		return a.Cost
	case MetricProfit:
		return a.Profit
	default:
		return a.Revenue
	}
}

// =============================================================================
// EVENT & TOTALS
// =============================================================================

// Event is one dated contribution to the report.
type Event struct {
	At       time.Time
	Category Category
	Amounts
}

// Totals is the sum of the events that fell into one bucket.
type Totals struct {
	Period Period
	Amounts
	ByCategory map[Category]Amounts
}

func newTotals(p Period) Totals {
	return Totals{Period: p, ByCategory: make(map[Category]Amounts, len(Categories))}
}

// Add folds an event into the totals.
func (t *Totals) Add(e Event) {
	if t.ByCategory == nil {
		t.ByCategory = make(map[Category]Amounts, len(Categories))
	}
	t.Amounts = t.Amounts.Add(e.Amounts)
	t.ByCategory[e.Category] = t.ByCategory[e.Category].Add(e.Amounts)
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Aggregate sums events into the given ordered, contiguous buckets.
// The result has exactly len(buckets) entries, zero-filled where empty.
// Each event lands in at most one bucket; events outside every bucket are
// ignored.
func Aggregate(events []Event, buckets []Period) []Totals {
	out := make([]Totals, len(buckets))
	for i, b := range buckets {
		out[i] = newTotals(b)
	}
	if len(buckets) == 0 {
		return out
	}
	for _, e := range events {
		// First bucket whose End is after the event.
		i := sort.Search(len(buckets), func(i int) bool {
			return buckets[i].End.After(e.At)
		})
		if i < len(buckets) && buckets[i].Contains(e.At) {
			out[i].Add(e)
		}
	}
	return out
}

// Sum totals the events within a single period.
func Sum(events []Event, p Period) Totals {
	return Aggregate(events, []Period{p})[0]
}

// SumAll totals every event regardless of time.
func SumAll(events []Event) Totals {
	t := newTotals(Period{})
	for _, e := range events {
		t.Add(e)
	}
	return t
}

// =============================================================================
// DAILY TOTALS - Per local date, the unit the adjustment merger works on
// =============================================================================

// DailyTotals maps a local YYYY-MM-DD date to the totals of that day.
type DailyTotals map[string]Totals

// AddEvent folds e into the day it falls on in loc.
func (d DailyTotals) AddEvent(e Event, loc *time.Location) {
	d.Add(DateString(e.At, loc), e.Category, e.Amounts)
}

// Add folds amounts for a category into a date.
func (d DailyTotals) Add(date string, c Category, a Amounts) {
	t := d[date]
	t.Add(Event{Category: c, Amounts: a})
	d[date] = t
}

// Dates returns the dates in ascending order.
func (d DailyTotals) Dates() []string {
	dates := make([]string, 0, len(d))
	for date := range d {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// Events expands the days back into events stamped at local midnight, one
// per category, so they can be bucketed. Unparseable dates are skipped.
func (d DailyTotals) Events(loc *time.Location) []Event {
	var events []Event
	for _, date := range d.Dates() {
		at, err := ParseDate(date, loc)
		if err != nil {
			continue
		}
		t := d[date]
		for _, c := range Categories {
			a, ok := t.ByCategory[c]
			if !ok {
				continue
			}
			events = append(events, Event{At: at, Category: c, Amounts: a})
		}
	}
	return events
}
