/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Admin capability check on every admin route
- Report shape and error status mapping
- Adjustment CRUD and validation
- Tenant dashboard and usage callback
- Backfill trigger, run history and scheduler
- Demo scenario loading
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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

const testToken = "s3cret"

var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	store   *store.Memory
	source  *payments.MemorySource
	handler *Handler
	router  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:  store.NewMemory(),
		source: payments.NewMemorySource(),
	}
	assembler := revenue.NewAssembler(revenue.AssemblerConfig{
		Store:    f.store,
		Fetcher:  payments.NewFetcher(f.source),
		Location: time.UTC,
	})
	f.handler = NewHandler(f.store, assembler, nil)
	f.handler.Clock = generic.FixedClock{At: testNow}
	f.handler.Demo = f.source
	f.router = NewRouter(f.handler, RouterConfig{AdminToken: testToken})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(AdminTokenHeader, testToken)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (f *apiFixture) subscribe(t *testing.T, id generic.PrincipalID, tier generic.Tier) {
	t.Helper()
	require.NoError(t, f.store.SaveSubscription(context.Background(), generic.Subscription{
		PrincipalID: id,
		Tier:        tier,
		Status:      generic.SubscriptionActive,
		CreatedAt:   testNow.AddDate(0, -2, 0),
	}))
}

func refill(id, payer, amount string, at time.Time) payments.RawTransaction {
	return payments.RawTransaction{
		ID:         id,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: at,
		Subtype:    payments.SubtypeBalanceRefill,
		PayerID:    payer,
		Status:     payments.StatusSucceeded,
	}
}

// =============================================================================
// ADMIN CAPABILITY
// =============================================================================

func TestAdminRoutes_RequireToken(t *testing.T) {
	f := newAPIFixture(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/admin/report"},
		{http.MethodGet, "/api/admin/adjustments"},
		{http.MethodPost, "/api/admin/backfill"},
		{http.MethodGet, "/api/admin/backfill/runs"},
		{http.MethodPut, "/api/admin/rates"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := f.do(t, rt.method, rt.path, nil, false)

			assert.Equal(t, http.StatusForbidden, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestAdminRoutes_WrongTokenRejected(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/report", nil)
	req.Header.Set(AdminTokenHeader, "guess")
	rec := httptest.NewRecorder()

	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRoutes_NoConfiguredTokenFailsClosed(t *testing.T) {
	f := newAPIFixture(t)
	router := NewRouter(f.handler, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/admin/report", nil)
	req.Header.Set(AdminTokenHeader, "")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// ADMIN REPORT
// =============================================================================

func TestGetAdminReport_Shape(t *testing.T) {
	// GIVEN: One refill an hour ago
	f := newAPIFixture(t)
	f.subscribe(t, "p-1", "pro")
	f.source.Add(refill("ch_1", "p-1", "100", testNow.Add(-time.Hour)))

	// WHEN: An admin requests the report
	rec := f.do(t, http.MethodGet, "/api/admin/report", nil, true)

	// THEN: Every section is present and money is rounded
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := rec.Body.Bytes()

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"allTime", "today", "last7Days", "last30Days", "charts", "users", "platform", "calls"} {
		assert.Contains(t, raw, key)
	}

	var report AdminReportDTO
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 100.0, report.Today.Revenue)
	assert.Equal(t, 54.14, report.Today.Profit)
	assert.Equal(t, 285.71, report.Calls.UnitsAllTime)
	assert.Equal(t, 100.0, report.Today.ByCategory["balance_refill"].Revenue)
	assert.Len(t, report.Charts.Last7Days, 7)
	assert.Len(t, report.Charts.Last30Days, 30)
	assert.Len(t, report.Charts.Last12Months, 12)
	assert.Equal(t, 1, report.Users.ByTier["pro"])
	assert.Equal(t, "UTC", report.Timezone)
}

func TestGetAdminReport_UpstreamFailureIs502(t *testing.T) {
	f := newAPIFixture(t)
	f.source.FailOnRequest = 1
	f.source.FailWith = errors.New("processor unavailable")

	rec := f.do(t, http.MethodGet, "/api/admin/report", nil, true)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Failed to build report", body.Error)
	assert.Contains(t, body.Details, "processor unavailable")
}

func TestGetAdminReport_StoreFailureIs500(t *testing.T) {
	f := newAPIFixture(t)
	f.store.FailWith = errors.New("database is locked")

	rec := f.do(t, http.MethodGet, "/api/admin/report", nil, true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjustments_CRUD(t *testing.T) {
	// GIVEN: No adjustments
	f := newAPIFixture(t)

	// WHEN: Creating a negative refill correction
	rec := f.do(t, http.MethodPost, "/api/admin/adjustments", map[string]any{
		"type": "revenue", "category": "Balance Refill", "amount": -50, "date": "2024-06-01",
		"description": "duplicate charge",
	}, true)

	// THEN: It is stored and listed
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AdjustmentDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, -50.0, created.Amount)

	rec = f.do(t, http.MethodGet, "/api/admin/adjustments?from=2024-06-01&to=2024-06-30", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AdjustmentDTO](t, rec), 1)

	// AND: It can be edited
	rec = f.do(t, http.MethodPut, "/api/admin/adjustments/"+created.ID, map[string]any{
		"type": "revenue", "category": "Balance Refill", "amount": "-40.5", "date": "2024-06-02",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[AdjustmentDTO](t, rec)
	assert.Equal(t, -40.5, updated.Amount)
	assert.Equal(t, "2024-06-02", updated.Date)

	// AND: Deleted once
	rec = f.do(t, http.MethodDelete, "/api/admin/adjustments/"+created.ID, nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/admin/adjustments/"+created.ID, nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdjustments_InvalidRejected(t *testing.T) {
	f := newAPIFixture(t)

	cases := map[string]map[string]any{
		"bad type":    {"type": "refund", "category": "Other", "amount": 10, "date": "2024-06-01"},
		"bad date":    {"type": "revenue", "category": "Other", "amount": 10, "date": "06/01/2024"},
		"zero amount": {"type": "expense", "category": "Other", "amount": 0, "date": "2024-06-01"},
		"no category": {"type": "expense", "category": " ", "amount": 10, "date": "2024-06-01"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/admin/adjustments", body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	adjs, err := f.store.ListAdjustments(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, adjs)
}

func TestAdjustments_UpdateUnknownIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/adjustments/missing", map[string]any{
		"type": "revenue", "category": "Other", "amount": 10, "date": "2024-06-01",
	}, true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// INPUTS
// =============================================================================

func TestPutSubscription(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/subscriptions", map[string]any{
		"principalId": "p-1", "tier": "Elite", "status": "active",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sub, err := f.store.GetSubscription(context.Background(), "p-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, generic.Tier("elite"), sub.Tier)
	assert.Equal(t, testNow, sub.CreatedAt)

	rec = f.do(t, http.MethodPut, "/api/admin/subscriptions", map[string]any{
		"principalId": "p-1", "tier": "elite", "status": "paused",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutRate_AndReferral(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPut, "/api/admin/rates", map[string]any{"principalId": "p-1", "costPerUnit": "0.28"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rates, err := f.store.RatesFor(ctx, []generic.PrincipalID{"p-1"})
	require.NoError(t, err)
	assert.True(t, rates["p-1"].Equal(decimal.RequireFromString("0.28")))

	rec = f.do(t, http.MethodPut, "/api/admin/rates", map[string]any{"principalId": "p-1", "costPerUnit": 0}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/referrals", map[string]any{"refereeId": "p-1"}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refs, err := f.store.ListReferrals(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, generic.ReferralConverted, refs[0].Status)
}

// =============================================================================
// TENANT ROUTES
// =============================================================================

func TestGetDashboard_CreatesTodayInTenantZone(t *testing.T) {
	// GIVEN: An elite tenant in New York with no ledger rows
	f := newAPIFixture(t)
	f.subscribe(t, "p-1", "elite")

	// WHEN: The tenant opens the dashboard
	rec := f.do(t, http.MethodGet, "/api/principals/p-1/dashboard?tz=America/New_York", nil, false)

	// THEN: Today's row is created with the daily base for June
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[DashboardDTO](t, rec)
	assert.Equal(t, "America/New_York", d.Timezone)
	assert.Equal(t, "elite", d.Tier)
	assert.Equal(t, 29.97, d.Today.RecurringCost)
	assert.Len(t, d.Charts.Last7Days, 7)

	row, err := f.store.GetLedgerRow(context.Background(), "p-1", "2024-06-15")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestRecordUsage(t *testing.T) {
	f := newAPIFixture(t)
	f.subscribe(t, "p-1", "pro")
	require.NoError(t, f.store.SaveRateProfile(context.Background(), generic.RateProfile{
		PrincipalID: "p-1", CostPerUnit: decimal.RequireFromString("0.40"),
	}))

	rec := f.do(t, http.MethodPost, "/api/principals/p-1/usage", map[string]any{"units": 10}, false)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[UsageResponse](t, rec)
	assert.Equal(t, 4.0, resp.Charged)
	assert.Equal(t, "2024-06-15", resp.Date)

	rec = f.do(t, http.MethodPost, "/api/principals/p-1/usage", map[string]any{"units": -1}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BACKFILL
// =============================================================================

func TestTriggerBackfill(t *testing.T) {
	// GIVEN: A row from yesterday that never got its recurring base
	f := newAPIFixture(t)
	f.subscribe(t, "p-1", "elite")
	_, err := f.store.EnsureLedgerRow(context.Background(), generic.LedgerRow{PrincipalID: "p-1", Date: "2024-06-14"})
	require.NoError(t, err)

	// WHEN: An admin triggers a pass
	rec := f.do(t, http.MethodPost, "/api/admin/backfill?mode=missing", nil, true)

	// THEN: The row is patched and the pass recorded
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[BackfillResultDTO](t, rec)
	assert.Equal(t, 1, result.Patched)
	assert.Equal(t, "missing", result.Mode)

	rec = f.do(t, http.MethodGet, "/api/admin/backfill/runs", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]BackfillRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestTriggerBackfill_UnknownModeIs400(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/backfill?mode=everything", nil, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubRunner struct {
	calls int
	err   error
}

func (s *stubRunner) Run(_ context.Context, _ time.Time, _ *time.Location, mode revenue.Mode) (revenue.BackfillResult, error) {
	s.calls++
	if mode != revenue.ModeMissing {
		return revenue.BackfillResult{}, errors.New("unexpected mode")
	}
	return revenue.BackfillResult{RunID: "run-1", Patched: 2}, s.err
}

func TestBackfillScheduler_RunsImmediatelyAndStops(t *testing.T) {
	runner := &stubRunner{}
	s := NewBackfillScheduler(runner, time.UTC, nil)
	s.CheckInterval = time.Hour

	s.Start()
	s.Stop()

	assert.Equal(t, 1, runner.calls)
}

func TestBackfillScheduler_NextRunTime(t *testing.T) {
	s := NewBackfillScheduler(&stubRunner{}, time.UTC, nil)
	s.Clock = generic.FixedClock{At: testNow}
	s.CheckInterval = 15 * time.Minute

	assert.Equal(t, testNow.Add(15*time.Minute), s.NextRunTime())
}

func TestBackfillScheduler_RunNowSurfacesError(t *testing.T) {
	runner := &stubRunner{err: generic.StoreErr("list rows", errors.New("locked"))}
	s := NewBackfillScheduler(runner, time.UTC, nil)

	_, err := s.RunNow(context.Background())

	assert.ErrorIs(t, err, generic.ErrDataStore)
}

// =============================================================================
// SCENARIOS & HEALTH
// =============================================================================

func TestLoadScenario_ThenReport(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "corrections"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/admin/report", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[AdminReportDTO](t, rec)
	assert.Equal(t, 3, report.Users.Total)
	assert.Greater(t, report.AllTime.Revenue, 0.0)

	rec = f.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadScenario_RequiresAdminToken(t *testing.T) {
	// GIVEN: A stored adjustment
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/admin/adjustments", map[string]any{
		"type": "expense", "category": "Other", "amount": 10, "date": "2024-06-01",
		"description": "keep me",
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: Loading a scenario and listing scenarios without the token
	load := f.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "steady-state"}, false)
	list := f.do(t, http.MethodGet, "/api/scenarios", nil, false)

	// THEN: Both are refused and the adjustment survives
	assert.Equal(t, http.StatusForbidden, load.Code)
	assert.Equal(t, http.StatusForbidden, list.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/adjustments", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	adjustments := decode[[]AdjustmentDTO](t, rec)
	require.Len(t, adjustments, 1)
	assert.Equal(t, "keep me", adjustments[0].Description)
}

func TestListScenarios(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/scenarios", nil, true)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	assert.Len(t, list, 4)
}

func TestScenarioRoutes_AbsentWithoutDemoSource(t *testing.T) {
	f := newAPIFixture(t)
	f.handler.Demo = nil
	router := NewRouter(f.handler, RouterConfig{AdminToken: testToken})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, false)

	assert.Equal(t, http.StatusOK, rec.Code)
}
