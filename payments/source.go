/*
Package payments reads the payment processor's transaction listing.

PURPOSE:
  The processor exposes a cursor-paginated listing of charges. This package
  walks that listing to completion, filters it to one subtype, and
  normalizes each charge into a Record the revenue engine can price.

KEY CONCEPTS:
  - PageSource: One page of the raw listing (Stripe in production)
  - Fetcher: Pagination to completion, filtering, dedupe, normalization
  - Record: The normalized, attributed transaction

FAILURE MODEL:
  Any page failure aborts the whole fetch. A partial listing would silently
  understate revenue, so callers get either every page or an error.

SEE ALSO:
  - fetcher.go: Pagination loop
  - stripe.go: Stripe adapter
  - revenue/report.go: Main consumer
*/
package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction subtypes the engine prices.
const (
	SubtypeBalanceRefill = "balance_refill"
	SubtypeSubscription  = "subscription"
)

// StatusSucceeded is the only status that counts as revenue.
const StatusSucceeded = "succeeded"

// =============================================================================
// RAW LISTING
// =============================================================================

// RawTransaction is one item of the processor listing, before filtering.
type RawTransaction struct {
	ID              string
	Amount          decimal.Decimal
	OccurredAt      time.Time
	Subtype         string
	PayerID         string // empty when the charge carries no principal
	Status          string
	FirstOccurrence bool
}

// PageRequest asks for the page after Cursor. An empty Cursor is the first
// page.
type PageRequest struct {
	Since  time.Time
	Limit  int
	Cursor string
}

type Page struct {
	Items   []RawTransaction
	HasMore bool
}

// PageSource returns one page of the listing, newest-first or oldest-first
// as the processor chooses. The cursor is the ID of the last item of the
// prior page.
type PageSource interface {
	ListPage(ctx context.Context, req PageRequest) (Page, error)
}

// =============================================================================
// NORMALIZED RECORD
// =============================================================================

// Record is a succeeded transaction of a single subtype.
type Record struct {
	ID              string
	Amount          decimal.Decimal
	OccurredAt      time.Time
	AttributionID   string
	FirstOccurrence bool
}

// =============================================================================
// MEMORY SOURCE - In-memory listing (for testing/dev)
// =============================================================================

// MemorySource serves a fixed listing in pages, ordered by OccurredAt.
type MemorySource struct {
	mu       sync.Mutex
	items    []RawTransaction
	requests int

	// FailOnRequest, when > 0, makes that request (1-based) return FailWith.
	FailOnRequest int
	FailWith      error
}

func NewMemorySource(items ...RawTransaction) *MemorySource {
	s := &MemorySource{}
	s.Add(items...)
	return s
}

// Add appends items to the listing.
func (s *MemorySource) Add(items ...RawTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].OccurredAt.Before(s.items[j].OccurredAt)
	})
}

// Reset clears the listing and the request counter.
func (s *MemorySource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.requests = 0
}

// Requests returns how many pages were requested.
func (s *MemorySource) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *MemorySource) ListPage(ctx context.Context, req PageRequest) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if s.FailOnRequest > 0 && s.requests == s.FailOnRequest {
		return Page{}, s.FailWith
	}

	var eligible []RawTransaction
	for _, item := range s.items {
		if !item.OccurredAt.Before(req.Since) {
			eligible = append(eligible, item)
		}
	}

	start := 0
	if req.Cursor != "" {
		start = len(eligible)
		for i, item := range eligible {
			if item.ID == req.Cursor {
				start = i + 1
				break
			}
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	end := start + limit
	if end > len(eligible) {
		end = len(eligible)
	}

	return Page{
		Items:   append([]RawTransaction(nil), eligible[start:end]...),
		HasMore: end < len(eligible),
	}, nil
}
