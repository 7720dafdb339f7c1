package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/revenue-engine/generic"
)

const (
	// DefaultPageLimit is the processor's maximum page size.
	DefaultPageLimit = 100
	// DefaultMaxPages bounds a single fetch at 50,000 transactions.
	DefaultMaxPages = 500
)

var errCursorStuck = errors.New("listing reported more items but returned an empty page")

// =============================================================================
// METRICS
// =============================================================================

// FetchMetrics holds Prometheus metrics for the fetcher.
type FetchMetrics struct {
	PagesRequested *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	FetchFailures  *prometheus.CounterVec
}

// NewFetchMetrics creates the collectors and registers them with reg.
func NewFetchMetrics(reg prometheus.Registerer) *FetchMetrics {
	m := &FetchMetrics{
		PagesRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_fetch_pages_total",
			Help: "Processor listing pages requested, by subtype.",
		}, []string{"subtype"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "revenue_fetch_duration_seconds",
			Help:    "Time to page a processor listing to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"subtype"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_fetch_failures_total",
			Help: "Listings that failed mid-pagination, by subtype.",
		}, []string{"subtype"}),
	}
	if reg != nil {
		reg.MustRegister(m.PagesRequested, m.FetchDuration, m.FetchFailures)
	}
	return m
}

// =============================================================================
// FETCHER
// =============================================================================

// Fetcher pages a PageSource to completion.
type Fetcher struct {
	source   PageSource
	limit    int
	maxPages int
	metrics  *FetchMetrics
	logger   *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithPageLimit sets the page size.
func WithPageLimit(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.limit = n
		}
	}
}

// WithMaxPages caps how many pages one fetch may request.
func WithMaxPages(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

func WithFetchMetrics(m *FetchMetrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

func NewFetcher(source PageSource, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		source:   source,
		limit:    DefaultPageLimit,
		maxPages: DefaultMaxPages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns every succeeded transaction of subtype created at or after
// since, deduplicated by ID and ordered by OccurredAt then ID.
//
// Any page failure aborts the fetch with an *generic.UpstreamFetchError;
// no partial result is returned. Exceeding the page cap is also an error.
func (f *Fetcher) Fetch(ctx context.Context, subtype string, since time.Time) ([]Record, error) {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.FetchDuration.WithLabelValues(subtype).Observe(time.Since(start).Seconds())
		}
	}()

	seen := make(map[string]struct{})
	var records []Record
	cursor := ""

	for page := 1; ; page++ {
		if page > f.maxPages {
			return nil, f.fail(subtype, page, fmt.Errorf("%w: more than %d pages", generic.ErrPageLimitExceeded, f.maxPages))
		}

		if f.metrics != nil {
			f.metrics.PagesRequested.WithLabelValues(subtype).Inc()
		}
		resp, err := f.source.ListPage(ctx, PageRequest{Since: since, Limit: f.limit, Cursor: cursor})
		if err != nil {
			return nil, f.fail(subtype, page, err)
		}

		for _, item := range resp.Items {
			if item.Subtype != subtype || item.Status != StatusSucceeded {
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			records = append(records, Record{
				ID:              item.ID,
				Amount:          item.Amount,
				OccurredAt:      item.OccurredAt,
				AttributionID:   item.PayerID,
				FirstOccurrence: item.FirstOccurrence,
			})
		}

		if !resp.HasMore {
			f.logger.Debug("listing fetched",
				slog.String("subtype", subtype),
				slog.Int("pages", page),
				slog.Int("records", len(records)))
			break
		}
		if len(resp.Items) == 0 {
			return nil, f.fail(subtype, page, errCursorStuck)
		}
		cursor = resp.Items[len(resp.Items)-1].ID
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].OccurredAt.Equal(records[j].OccurredAt) {
			return records[i].OccurredAt.Before(records[j].OccurredAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (f *Fetcher) fail(subtype string, page int, err error) error {
	if f.metrics != nil {
		f.metrics.FetchFailures.WithLabelValues(subtype).Inc()
	}
	f.logger.Error("listing fetch failed",
		slog.String("subtype", subtype),
		slog.Int("page", page),
		slog.Any("error", err))
	return &generic.UpstreamFetchError{Subtype: subtype, Page: page, Err: err}
}
