package revenue

import (
	"context"
	"log/slog"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
)

// RateResolver looks up per-principal metered rates in one batch.
type RateResolver struct {
	store       generic.RateStore
	defaultRate decimal.Decimal
	logger      *slog.Logger
}

func NewRateResolver(store generic.RateStore, pricing *Pricing, logger *slog.Logger) *RateResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateResolver{store: store, defaultRate: pricing.DefaultRate, logger: logger}
}

// Resolve returns a rate for every non-empty ID. Principals without a
// positive rate profile get the default rate; that is a configuration gap,
// not an error.
func (r *RateResolver) Resolve(ctx context.Context, ids []generic.PrincipalID) (map[generic.PrincipalID]decimal.Decimal, error) {
	ids = lo.Uniq(lo.Filter(ids, func(id generic.PrincipalID, _ int) bool { return id != "" }))
	result := make(map[generic.PrincipalID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	stored, err := r.store.RatesFor(ctx, ids)
	if err != nil {
		return nil, generic.StoreErr("load rate profiles", err)
	}

	for _, id := range ids {
		rate, ok := stored[id]
		if !ok || !rate.IsPositive() {
			r.logger.Debug("no rate profile, using default",
				slog.String("principal_id", string(id)),
				slog.String("default_rate", r.defaultRate.String()))
			rate = r.defaultRate
		}
		result[id] = rate
	}
	return result, nil
}

// RateFor resolves a single principal.
func (r *RateResolver) RateFor(ctx context.Context, id generic.PrincipalID) (decimal.Decimal, error) {
	rates, err := r.Resolve(ctx, []generic.PrincipalID{id})
	if err != nil {
		return decimal.Zero, err
	}
	if rate, ok := rates[id]; ok {
		return rate, nil
	}
	return r.defaultRate, nil
}
