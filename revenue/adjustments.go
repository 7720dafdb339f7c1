package revenue

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// MaxDescriptionLength bounds an adjustment's free-text description.
const MaxDescriptionLength = 500

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateAdjustment rejects malformed manual entries before they are
// stored. Reconciliation never sees an invalid adjustment.
func ValidateAdjustment(adj generic.Adjustment) error {
	switch adj.Type {
	case generic.AdjustmentRevenue, generic.AdjustmentExpense:
	default:
		return &generic.AdjustmentValidationError{Field: "type", Reason: "must be revenue or expense"}
	}
	if strings.TrimSpace(adj.Category) == "" {
		return &generic.AdjustmentValidationError{Field: "category", Reason: "required"}
	}
	if adj.Amount.IsZero() {
		return &generic.AdjustmentValidationError{Field: "amount", Reason: "must be non-zero"}
	}
	if _, err := time.Parse("2006-01-02", adj.Date); err != nil {
		return &generic.AdjustmentValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	if utf8.RuneCountInString(adj.Description) > MaxDescriptionLength {
		return &generic.AdjustmentValidationError{Field: "description", Reason: "too long"}
	}
	return nil
}

// =============================================================================
// MERGE
// =============================================================================

// AdjustmentAmounts is what one adjustment contributes to its day.
// Revenue entries are priced like metered revenue at the default rate;
// expense entries are pure cost.
func (c Calculator) AdjustmentAmounts(adj generic.Adjustment) generic.Amounts {
	if adj.Type == generic.AdjustmentExpense {
		return c.ManualExpense(adj.Amount).Amounts()
	}
	return c.ManualRevenue(adj.Amount).Amounts()
}

// Merge adds adjustments to the real daily totals. For every date and
// metric, merged = real + sum of that date's adjustments. Dates with no real
// data appear with the adjustment sum alone. real is not modified.
func Merge(real generic.DailyTotals, adjustments []generic.Adjustment, calc Calculator) generic.DailyTotals {
	merged := make(generic.DailyTotals, len(real))
	for date, t := range real {
		for c, a := range t.ByCategory {
			merged.Add(date, c, a)
		}
	}
	for _, adj := range adjustments {
		merged.Add(adj.Date, generic.ParseCategory(adj.Category), calc.AdjustmentAmounts(adj))
	}
	return merged
}

// MergedValue is the single-value form of Merge for one date and metric.
func MergedValue(calc Calculator, real decimal.Decimal, adjustments []generic.Adjustment, metric generic.Metric, date string) decimal.Decimal {
	total := real
	for _, adj := range adjustments {
		if adj.Date == date {
			total = total.Add(calc.AdjustmentAmounts(adj).Value(metric))
		}
	}
	return total
}

// =============================================================================
// ADJUSTMENT SERVICE - Admin CRUD
// =============================================================================

// AdjustmentInput is an administrator's create or edit request.
type AdjustmentInput struct {
	Type        generic.AdjustmentType
	Category    string
	Amount      decimal.Decimal
	Date        string
	Description string
}

type AdjustmentService struct {
	store generic.AdjustmentStore
}

func NewAdjustmentService(store generic.AdjustmentStore) *AdjustmentService {
	return &AdjustmentService{store: store}
}

// Create validates and stores a new adjustment.
func (s *AdjustmentService) Create(ctx context.Context, in AdjustmentInput, now time.Time) (*generic.Adjustment, error) {
	adj := generic.Adjustment{
		ID:          generic.AdjustmentID(uuid.NewString()),
		Type:        in.Type,
		Category:    strings.TrimSpace(in.Category),
		Amount:      in.Amount,
		Date:        in.Date,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ValidateAdjustment(adj); err != nil {
		return nil, err
	}
	if err := s.store.CreateAdjustment(ctx, adj); err != nil {
		return nil, generic.StoreErr("create adjustment", err)
	}
	return &adj, nil
}

// Update validates and replaces an existing adjustment.
func (s *AdjustmentService) Update(ctx context.Context, id generic.AdjustmentID, in AdjustmentInput, now time.Time) (*generic.Adjustment, error) {
	existing, err := s.store.GetAdjustment(ctx, id)
	if err != nil {
		return nil, generic.StoreErr("get adjustment", err)
	}
	if existing == nil {
		return nil, generic.ErrAdjustmentNotFound
	}

	adj := *existing
	adj.Type = in.Type
	adj.Category = strings.TrimSpace(in.Category)
	adj.Amount = in.Amount
	adj.Date = in.Date
	adj.Description = in.Description
	adj.UpdatedAt = now
	if err := ValidateAdjustment(adj); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAdjustment(ctx, adj); err != nil {
		if generic.IsNotFound(err) {
			return nil, err
		}
		return nil, generic.StoreErr("update adjustment", err)
	}
	return &adj, nil
}

func (s *AdjustmentService) Delete(ctx context.Context, id generic.AdjustmentID) error {
	if err := s.store.DeleteAdjustment(ctx, id); err != nil {
		if generic.IsNotFound(err) {
			return err
		}
		return generic.StoreErr("delete adjustment", err)
	}
	return nil
}

// List returns adjustments dated within [from, to]; empty bounds are open.
func (s *AdjustmentService) List(ctx context.Context, from, to string) ([]generic.Adjustment, error) {
	adjs, err := s.store.ListAdjustments(ctx, from, to)
	if err != nil {
		return nil, generic.StoreErr("list adjustments", err)
	}
	return adjs, nil
}
