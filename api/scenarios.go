/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store and the in-memory
	payment processor with realistic data for demos. Each scenario creates
	subscriptions, rates, referrals, processor transactions and ledger rows
	that exercise a specific part of the report.

AVAILABLE SCENARIOS:

	steady-state:     Three tiers, metered refills, subscription renewals
	referrals:        Referred tenants paying commission on renewals
	corrections:      Manual adjustments, including a negative correction
	missing-costs:    Ledger rows without a recurring base, ready to backfill

HOW SCENARIOS WORK:
 1. Reset the store and the demo processor
 2. Save subscriptions, rates and referrals
 3. Add processor transactions relative to the handler clock
 4. Optionally add ledger rows and adjustments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "referrals"}

NOTE:

	Scenarios reset the store. The routes only exist when the server runs
	against the demo processor, and they require the admin token.

SEE ALSO:
  - handlers.go: Handler.Demo
  - payments/source.go: MemorySource
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/payments"
	"github.com/warp/revenue-engine/revenue"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "steady-state",
		Name:        "Steady State",
		Description: "Starter, pro and elite tenants with metered refills and monthly renewals",
	},
	{
		ID:          "referrals",
		Name:        "Referral Program",
		Description: "Referred tenants whose subscription profit is reduced by commission",
	},
	{
		ID:          "corrections",
		Name:        "Manual Corrections",
		Description: "Revenue and expense adjustments, including a negative refill correction",
	},
	{
		ID:          "missing-costs",
		Name:        "Missing Daily Costs",
		Description: "Historical ledger rows without a recurring base, repaired by a backfill pass",
	},
}

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(ctx context.Context, now time.Time) error
	switch req.ScenarioID {
	case "steady-state":
		load = h.loadSteadyStateScenario
	case "referrals":
		load = h.loadReferralsScenario
	case "corrections":
		load = h.loadCorrectionsScenario
	case "missing-costs":
		load = h.loadMissingCostsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}

	if err := load(ctx, h.Clock.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.Logger.Info("scenario loaded", slog.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.Demo.Reset()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoTenant struct {
	id   generic.PrincipalID
	tier generic.Tier
	rate string
	// refills is the amount of a refill every refillEvery days.
	refills     string
	refillEvery int
	since       int // days ago the subscription started
}

func (h *Handler) loadSteadyStateScenario(ctx context.Context, now time.Time) error {
	tenants := []demoTenant{
		{id: "acme-dental", tier: "starter", rate: "0.35", refills: "50", refillEvery: 7, since: 200},
		{id: "bright-realty", tier: "pro", rate: "0.30", refills: "100", refillEvery: 5, since: 120},
		{id: "northwind-legal", tier: "elite", rate: "0.25", refills: "250", refillEvery: 3, since: 60},
	}
	return h.seedTenants(ctx, now, tenants)
}

func (h *Handler) loadReferralsScenario(ctx context.Context, now time.Time) error {
	tenants := []demoTenant{
		{id: "harbor-clinic", tier: "elite", rate: "0.35", refills: "80", refillEvery: 10, since: 90},
		{id: "summit-insurance", tier: "pro", rate: "0.35", refills: "60", refillEvery: 6, since: 45},
		{id: "direct-co", tier: "elite", rate: "0.35", refills: "40", refillEvery: 14, since: 90},
	}
	if err := h.seedTenants(ctx, now, tenants); err != nil {
		return err
	}

	// harbor-clinic was referred before signing up; summit-insurance only
	// after its first period, so its first charge is direct.
	referrals := []generic.Referral{
		{RefereeID: "harbor-clinic", Status: generic.ReferralConverted, CreatedAt: now.AddDate(0, 0, -100)},
		{RefereeID: "summit-insurance", Status: generic.ReferralActive, CreatedAt: now.AddDate(0, 0, -20)},
	}
	for _, ref := range referrals {
		if err := h.Store.SaveReferral(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCorrectionsScenario(ctx context.Context, now time.Time) error {
	if err := h.loadSteadyStateScenario(ctx, now); err != nil {
		return err
	}

	loc := h.Assembler.Location()
	inputs := []revenue.AdjustmentInput{
		{
			Type:        generic.AdjustmentRevenue,
			Category:    "Balance Refill",
			Amount:      decimal.NewFromInt(-50),
			Date:        generic.DateString(now.AddDate(0, 0, -3), loc),
			Description: "Refund of a duplicate refill",
		},
		{
			Type:        generic.AdjustmentRevenue,
			Category:    "Other",
			Amount:      decimal.NewFromInt(1200),
			Date:        generic.DateString(now.AddDate(0, 0, -12), loc),
			Description: "Onboarding fee paid by wire transfer",
		},
		{
			Type:        generic.AdjustmentExpense,
			Category:    "Other",
			Amount:      decimal.NewFromInt(300),
			Date:        generic.DateString(now.AddDate(0, -2, 0), loc),
			Description: "Carrier number porting",
		},
	}
	for _, in := range inputs {
		if _, err := h.Adjustments.Create(ctx, in, now); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMissingCostsScenario(ctx context.Context, now time.Time) error {
	tenants := []demoTenant{
		{id: "acme-dental", tier: "starter", rate: "0.35", refills: "50", refillEvery: 7, since: 40},
		{id: "northwind-legal", tier: "elite", rate: "0.25", refills: "250", refillEvery: 3, since: 40},
	}
	if err := h.seedTenants(ctx, now, tenants); err != nil {
		return err
	}

	// Rows for the last 14 days with no recurring base.
	loc := h.Assembler.Location()
	for _, t := range tenants {
		for d := 1; d <= 14; d++ {
			row := generic.LedgerRow{PrincipalID: t.id, Date: generic.DateString(now.AddDate(0, 0, -d), loc)}
			if _, err := h.Store.EnsureLedgerRow(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// seedTenants saves subscriptions and rates, then adds refills and monthly
// subscription charges to the demo processor.
func (h *Handler) seedTenants(ctx context.Context, now time.Time, tenants []demoTenant) error {
	pricing := h.Assembler.Pricing()

	for _, t := range tenants {
		created := now.AddDate(0, 0, -t.since)
		sub := generic.Subscription{
			PrincipalID:      t.id,
			Tier:             t.tier,
			Status:           generic.SubscriptionActive,
			CreatedAt:        created,
			CurrentPeriodEnd: now.AddDate(0, 1, 0),
		}
		if err := h.Store.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		rp := generic.RateProfile{PrincipalID: t.id, CostPerUnit: decimal.RequireFromString(t.rate)}
		if err := h.Store.SaveRateProfile(ctx, rp); err != nil {
			return err
		}

		var txs []payments.RawTransaction
		for d := 0; d < t.since; d += t.refillEvery {
			at := now.AddDate(0, 0, -d).Add(-2 * time.Hour)
			txs = append(txs, payments.RawTransaction{
				ID:         fmt.Sprintf("ch_%s_refill_%d", t.id, d),
				Amount:     decimal.RequireFromString(t.refills),
				OccurredAt: at,
				Subtype:    payments.SubtypeBalanceRefill,
				PayerID:    string(t.id),
				Status:     payments.StatusSucceeded,
			})
		}

		price, ok := pricing.TierPrice(t.tier)
		if ok {
			for m := 0; !created.AddDate(0, m, 0).After(now); m++ {
				txs = append(txs, payments.RawTransaction{
					ID:              fmt.Sprintf("ch_%s_sub_%d", t.id, m),
					Amount:          price,
					OccurredAt:      created.AddDate(0, m, 0),
					Subtype:         payments.SubtypeSubscription,
					PayerID:         string(t.id),
					Status:          payments.StatusSucceeded,
					FirstOccurrence: m == 0,
				})
			}
		}
		h.Demo.Add(txs...)
	}
	return nil
}
