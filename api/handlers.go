/*
handlers.go - HTTP API handlers for the revenue engine

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the revenue package.

ENDPOINTS:
  Admin report:
    GET    /api/admin/report                 Revenue, cost and profit report

  Adjustments:
    GET    /api/admin/adjustments            List (?from=&to=)
    POST   /api/admin/adjustments            Create
    PUT    /api/admin/adjustments/{id}       Replace
    DELETE /api/admin/adjustments/{id}       Delete

  Backfill:
    POST   /api/admin/backfill               Run a pass (?mode=missing|reprice)
    GET    /api/admin/backfill/runs          Recent passes (?limit=)

  Inputs:
    PUT    /api/admin/subscriptions          Upsert a subscription
    PUT    /api/admin/rates                  Upsert a metered rate
    POST   /api/admin/referrals              Record a referral

  Tenant:
    GET    /api/principals/{id}/dashboard    Spend dashboard (?tz=Area/City)
    POST   /api/principals/{id}/usage        Record metered usage (?tz=)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic with the handler clock's now
  4. Serialize response, rounding money to cents
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Missing admin capability
  - 404: Resource not found
  - 502: Payment processor listing failed
  - 500: Store and internal errors
  A failed report is never returned partially.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/payments"
	"github.com/warp/revenue-engine/revenue"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       generic.Store
	Assembler   *revenue.Assembler
	Adjustments *revenue.AdjustmentService
	Clock       generic.Clock
	Logger      *slog.Logger

	// Demo, when set, is the in-memory processor the scenarios seed.
	Demo *payments.MemorySource
}

// NewHandler creates a new handler over the given store and assembler.
func NewHandler(store generic.Store, assembler *revenue.Assembler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:       store,
		Assembler:   assembler,
		Adjustments: revenue.NewAdjustmentService(store),
		Clock:       generic.SystemClock{},
		Logger:      logger,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, including the store when it can be pinged.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN REPORT
// =============================================================================

// GetAdminReport builds the full report. Any fetch or store failure fails
// the whole request.
// GET /api/admin/report
func (h *Handler) GetAdminReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Assembler.BuildAdminReport(r.Context(), h.Clock.Now())
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminReportDTO(report))
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// ListAdjustments returns adjustments in an optional date window.
// GET /api/admin/adjustments?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	adjs, err := h.Adjustments.List(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "Failed to list adjustments", err)
		return
	}

	dtos := make([]AdjustmentDTO, len(adjs))
	for i, a := range adjs {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment stores a validated manual entry.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adj, err := h.Adjustments.Create(r.Context(), req.input(), h.Clock.Now())
	if err != nil {
		h.fail(w, r, "Failed to create adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*adj))
}

// UpdateAdjustment replaces an existing entry.
// PUT /api/admin/adjustments/{id}
func (h *Handler) UpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	id := generic.AdjustmentID(chi.URLParam(r, "id"))

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adj, err := h.Adjustments.Update(r.Context(), id, req.input(), h.Clock.Now())
	if err != nil {
		h.fail(w, r, "Failed to update adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*adj))
}

// DeleteAdjustment removes an entry.
// DELETE /api/admin/adjustments/{id}
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id := generic.AdjustmentID(chi.URLParam(r, "id"))

	if err := h.Adjustments.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": string(id)})
}

func (req AdjustmentRequest) input() revenue.AdjustmentInput {
	return revenue.AdjustmentInput{
		Type:        generic.AdjustmentType(strings.ToLower(strings.TrimSpace(req.Type))),
		Category:    req.Category,
		Amount:      req.Amount,
		Date:        req.Date,
		Description: req.Description,
	}
}

// =============================================================================
// BACKFILL HANDLERS
// =============================================================================

// TriggerBackfill runs one reconciler pass synchronously.
// POST /api/admin/backfill?mode=missing|reprice
func (h *Handler) TriggerBackfill(w http.ResponseWriter, r *http.Request) {
	mode, err := revenue.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.fail(w, r, "Invalid backfill mode", err)
		return
	}

	result, err := h.Assembler.Reconciler().Run(r.Context(), h.Clock.Now(), h.Assembler.Location(), mode)
	if err != nil {
		h.fail(w, r, "Backfill failed", err)
		return
	}

	writeJSON(w, http.StatusOK, BackfillResultDTO{
		RunID:   result.RunID,
		Mode:    string(mode),
		Scanned: result.Scanned,
		Patched: result.Patched,
		Skipped: result.Skipped,
	})
}

// ListBackfillRuns returns recent passes, newest first.
// GET /api/admin/backfill/runs?limit=N
func (h *Handler) ListBackfillRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListBackfillRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list backfill runs", generic.StoreErr("list backfill runs", err))
		return
	}

	dtos := make([]BackfillRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toBackfillRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INPUT HANDLERS - Subscriptions, rates, referrals
// =============================================================================

// PutSubscription inserts or replaces a principal's subscription.
// PUT /api/admin/subscriptions
func (h *Handler) PutSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub, err := req.toSubscription(h.Clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription", err)
		return
	}

	if err := h.Store.SaveSubscription(r.Context(), sub); err != nil {
		h.fail(w, r, "Failed to save subscription", generic.StoreErr("save subscription", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"principalId": string(sub.PrincipalID),
		"tier":        string(sub.Tier),
		"status":      string(sub.Status),
	})
}

func (req SubscriptionRequest) toSubscription(now time.Time) (generic.Subscription, error) {
	sub := generic.Subscription{
		PrincipalID:            generic.PrincipalID(strings.TrimSpace(req.PrincipalID)),
		Tier:                   generic.Tier(strings.ToLower(strings.TrimSpace(req.Tier))),
		Status:                 generic.SubscriptionStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		CreatedAt:              now.UTC(),
		ExternalSubscriptionID: req.ExternalSubscriptionID,
	}
	if sub.PrincipalID == "" {
		return sub, errors.New("principalId is required")
	}
	if sub.Tier == "" {
		return sub, errors.New("tier is required")
	}
	switch sub.Status {
	case generic.SubscriptionActive, generic.SubscriptionTrialing,
		generic.SubscriptionPastDue, generic.SubscriptionCanceled:
	default:
		return sub, fmt.Errorf("unknown status %q", req.Status)
	}
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			return sub, fmt.Errorf("invalid createdAt: %w", err)
		}
		sub.CreatedAt = t.UTC()
	}
	if req.CurrentPeriodEnd != nil {
		t, err := time.Parse(time.RFC3339, *req.CurrentPeriodEnd)
		if err != nil {
			return sub, fmt.Errorf("invalid currentPeriodEnd: %w", err)
		}
		sub.CurrentPeriodEnd = t.UTC()
	}
	return sub, nil
}

// PutRate sets a principal's metered rate.
// PUT /api/admin/rates
func (h *Handler) PutRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.PrincipalID) == "" {
		writeError(w, http.StatusBadRequest, "principalId is required", nil)
		return
	}
	if !req.CostPerUnit.IsPositive() {
		writeError(w, http.StatusBadRequest, "costPerUnit must be positive", nil)
		return
	}

	rp := generic.RateProfile{PrincipalID: generic.PrincipalID(req.PrincipalID), CostPerUnit: req.CostPerUnit}
	if err := h.Store.SaveRateProfile(r.Context(), rp); err != nil {
		h.fail(w, r, "Failed to save rate", generic.StoreErr("save rate profile", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"principalId": req.PrincipalID,
		"costPerUnit": req.CostPerUnit.String(),
	})
}

// PostReferral records a referral for a referee.
// POST /api/admin/referrals
func (h *Handler) PostReferral(w http.ResponseWriter, r *http.Request) {
	var req ReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.RefereeID) == "" {
		writeError(w, http.StatusBadRequest, "refereeId is required", nil)
		return
	}

	ref := generic.Referral{
		RefereeID: generic.PrincipalID(req.RefereeID),
		Status:    generic.ReferralStatus(strings.ToLower(req.Status)),
		CreatedAt: h.Clock.Now().UTC(),
	}
	switch ref.Status {
	case "":
		ref.Status = generic.ReferralConverted
	case generic.ReferralPending, generic.ReferralConverted, generic.ReferralActive, generic.ReferralRevoked:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown referral status %q", req.Status), nil)
		return
	}
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid createdAt", err)
			return
		}
		ref.CreatedAt = t.UTC()
	}

	if err := h.Store.SaveReferral(r.Context(), ref); err != nil {
		h.fail(w, r, "Failed to save referral", generic.StoreErr("save referral", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"refereeId": string(ref.RefereeID),
		"status":    string(ref.Status),
	})
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// GetDashboard returns a principal's spend dashboard in their timezone.
// Opening it guarantees today's ledger row exists.
// GET /api/principals/{id}/dashboard?tz=Area/City
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	id := generic.PrincipalID(chi.URLParam(r, "id"))
	loc := generic.ResolveLocation(r.URL.Query().Get("tz"))

	d, err := h.Assembler.BuildDashboard(r.Context(), id, h.Clock.Now(), loc)
	if err != nil {
		h.fail(w, r, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// RecordUsage adds metered usage to today's row at the principal's rate.
// POST /api/principals/{id}/usage?tz=Area/City
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	id := generic.PrincipalID(chi.URLParam(r, "id"))
	loc := generic.ResolveLocation(r.URL.Query().Get("tz"))

	var req UsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	now := h.Clock.Now()
	charged, err := h.Assembler.RecordUsage(r.Context(), id, req.Units, now, loc)
	if err != nil {
		h.fail(w, r, "Failed to record usage", err)
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{
		PrincipalID: string(id),
		Date:        generic.DateString(now, loc),
		Charged:     money(charged),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden
	case generic.IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
