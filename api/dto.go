/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

ROUNDING:
  Money is carried as decimal.Decimal through the whole engine and rounded
  to cents only here, when a response is built. Nothing upstream rounds.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Report:
    AdminReportDTO, TotalsDTO, BucketDTO, ChartsDTO, UsersDTO, PlatformDTO, CallsDTO

  Dashboard:
    DashboardDTO

  Adjustments:
    AdjustmentDTO, AdjustmentRequest

  Admin inputs:
    SubscriptionRequest, RateRequest, ReferralRequest, UsageRequest

  Backfill:
    BackfillResultDTO, BackfillRunDTO

VALIDATION:
  Validation is done in handlers and the revenue package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/revenue"
)

// =============================================================================
// REPORT
// =============================================================================

// TotalsDTO is one summary block or chart bucket.
type TotalsDTO struct {
	Revenue    float64                    `json:"revenue"`
	Cost       float64                    `json:"cost"`
	Profit     float64                    `json:"profit"`
	Units      float64                    `json:"units"`
	ByCategory map[string]CategoryTotalDTO `json:"byCategory"`
}

type CategoryTotalDTO struct {
	Revenue float64 `json:"revenue"`
	Cost    float64 `json:"cost"`
	Profit  float64 `json:"profit"`
}

// BucketDTO is one point of a chart series.
type BucketDTO struct {
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
	TotalsDTO
}

type ChartsDTO struct {
	Last7Days    []BucketDTO `json:"last7Days"`
	Last30Days   []BucketDTO `json:"last30Days"`
	Last12Months []BucketDTO `json:"last12Months"`
}

type UsersDTO struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	ByTier        map[string]int `json:"byTier"`
	Referred      int            `json:"referred"`
	NewLast30Days int            `json:"newLast30Days"`
}

type LedgerCostDTO struct {
	RecurringCost float64 `json:"recurringCost"`
	MeteredCost   float64 `json:"meteredCost"`
	Total         float64 `json:"total"`
}

type PlatformDTO struct {
	Last30Days   LedgerCostDTO `json:"last30Days"`
	Last12Months LedgerCostDTO `json:"last12Months"`
}

type CallsDTO struct {
	UnitsAllTime    float64 `json:"unitsAllTime"`
	UnitsLast30Days float64 `json:"unitsLast30Days"`
}

// AdminReportDTO is the response of GET /api/admin/report.
type AdminReportDTO struct {
	GeneratedAt string      `json:"generatedAt"`
	Timezone    string      `json:"timezone"`
	AllTime     TotalsDTO   `json:"allTime"`
	Today       TotalsDTO   `json:"today"`
	Last7Days   TotalsDTO   `json:"last7Days"`
	Last30Days  TotalsDTO   `json:"last30Days"`
	Charts      ChartsDTO   `json:"charts"`
	Users       UsersDTO    `json:"users"`
	Platform    PlatformDTO `json:"platform"`
	Calls       CallsDTO    `json:"calls"`
}

// =============================================================================
// DASHBOARD
// =============================================================================

// SpendDTO is a tenant summary block.
type SpendDTO struct {
	Revenue       float64 `json:"revenue"`
	RecurringCost float64 `json:"recurringCost"`
	MeteredCost   float64 `json:"meteredCost"`
	TotalSpend    float64 `json:"totalSpend"`
}

type SpendBucketDTO struct {
	Label string `json:"label"`
	Start string `json:"start"`
	SpendDTO
}

type DashboardDTO struct {
	PrincipalID string          `json:"principalId"`
	Timezone    string          `json:"timezone"`
	Tier        string          `json:"tier,omitempty"`
	Status      string          `json:"status,omitempty"`
	Today       SpendDTO        `json:"today"`
	Last7Days   SpendDTO        `json:"last7Days"`
	Last30Days  SpendDTO        `json:"last30Days"`
	AllTime     SpendDTO        `json:"allTime"`
	Charts      DashboardCharts `json:"charts"`
}

type DashboardCharts struct {
	Last7Days    []SpendBucketDTO `json:"last7Days"`
	Last30Days   []SpendBucketDTO `json:"last30Days"`
	Last12Months []SpendBucketDTO `json:"last12Months"`
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentDTO struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Category    string  `json:"category"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

// AdjustmentRequest creates or replaces an adjustment. Amount accepts a
// JSON number or string.
type AdjustmentRequest struct {
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description,omitempty"`
}

// =============================================================================
// ADMIN INPUTS
// =============================================================================

type SubscriptionRequest struct {
	PrincipalID            string  `json:"principalId"`
	Tier                   string  `json:"tier"`
	Status                 string  `json:"status"`
	CreatedAt              string  `json:"createdAt,omitempty"`        // RFC3339, defaults to now
	CurrentPeriodEnd       *string `json:"currentPeriodEnd,omitempty"` // RFC3339
	ExternalSubscriptionID string  `json:"externalSubscriptionId,omitempty"`
}

type RateRequest struct {
	PrincipalID string          `json:"principalId"`
	CostPerUnit decimal.Decimal `json:"costPerUnit"`
}

type ReferralRequest struct {
	RefereeID string `json:"refereeId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt,omitempty"` // RFC3339, defaults to now
}

type UsageRequest struct {
	Units decimal.Decimal `json:"units"`
}

type UsageResponse struct {
	PrincipalID string  `json:"principalId"`
	Date        string  `json:"date"`
	Charged     float64 `json:"charged"`
}

// =============================================================================
// BACKFILL
// =============================================================================

type BackfillResultDTO struct {
	RunID   string `json:"runId"`
	Mode    string `json:"mode"`
	Scanned int    `json:"scanned"`
	Patched int    `json:"patched"`
	Skipped int    `json:"skipped"`
}

type BackfillRunDTO struct {
	ID          string  `json:"id"`
	Mode        string  `json:"mode"`
	Status      string  `json:"status"`
	Scanned     int     `json:"scanned"`
	Patched     int     `json:"patched"`
	Skipped     int     `json:"skipped"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"startedAt"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

// money rounds for presentation.
func money(d decimal.Decimal) float64 {
	return generic.Round2(d).InexactFloat64()
}

func toTotalsDTO(t generic.Totals) TotalsDTO {
	dto := TotalsDTO{
		Revenue:    money(t.Revenue),
		Cost:       money(t.Cost),
		Profit:     money(t.Profit),
		Units:      money(t.Units),
		ByCategory: make(map[string]CategoryTotalDTO, len(generic.Categories)),
	}
	for _, c := range generic.Categories {
		a := t.ByCategory[c]
		dto.ByCategory[c.String()] = CategoryTotalDTO{
			Revenue: money(a.Revenue),
			Cost:    money(a.Cost),
			Profit:  money(a.Profit),
		}
	}
	return dto
}

func toBucketDTOs(buckets []generic.Totals) []BucketDTO {
	dtos := make([]BucketDTO, len(buckets))
	for i, b := range buckets {
		dtos[i] = BucketDTO{
			Label:     b.Period.Label,
			Start:     b.Period.Start.Format(time.RFC3339),
			End:       b.Period.End.Format(time.RFC3339),
			TotalsDTO: toTotalsDTO(b),
		}
	}
	return dtos
}

func toLedgerCostDTO(c revenue.LedgerCost) LedgerCostDTO {
	return LedgerCostDTO{
		RecurringCost: money(c.RecurringCost),
		MeteredCost:   money(c.MeteredCost),
		Total:         money(c.Total()),
	}
}

func toAdminReportDTO(r *revenue.AdminReport) AdminReportDTO {
	byTier := make(map[string]int, len(r.Users.ByTier))
	for tier, n := range r.Users.ByTier {
		byTier[string(tier)] = n
	}
	return AdminReportDTO{
		GeneratedAt: r.GeneratedAt.Format(time.RFC3339),
		Timezone:    r.Timezone,
		AllTime:     toTotalsDTO(r.AllTime),
		Today:       toTotalsDTO(r.Today),
		Last7Days:   toTotalsDTO(r.Last7Days),
		Last30Days:  toTotalsDTO(r.Last30Days),
		Charts: ChartsDTO{
			Last7Days:    toBucketDTOs(r.Charts.Last7Days),
			Last30Days:   toBucketDTOs(r.Charts.Last30Days),
			Last12Months: toBucketDTOs(r.Charts.Last12Months),
		},
		Users: UsersDTO{
			Total:         r.Users.Total,
			Active:        r.Users.Active,
			ByTier:        byTier,
			Referred:      r.Users.Referred,
			NewLast30Days: r.Users.NewLast30Days,
		},
		Platform: PlatformDTO{
			Last30Days:   toLedgerCostDTO(r.Platform.Last30Days),
			Last12Months: toLedgerCostDTO(r.Platform.Last12Months),
		},
		Calls: CallsDTO{
			UnitsAllTime:    money(r.Calls.UnitsAllTime),
			UnitsLast30Days: money(r.Calls.UnitsLast30Days),
		},
	}
}

func toSpendDTO(t generic.Totals) SpendDTO {
	return SpendDTO{
		Revenue:       money(t.Revenue),
		RecurringCost: money(t.RecurringCost),
		MeteredCost:   money(t.MeteredCost),
		TotalSpend:    money(t.Cost),
	}
}

func toSpendBuckets(buckets []generic.Totals) []SpendBucketDTO {
	dtos := make([]SpendBucketDTO, len(buckets))
	for i, b := range buckets {
		dtos[i] = SpendBucketDTO{
			Label:    b.Period.Label,
			Start:    b.Period.Start.Format(time.RFC3339),
			SpendDTO: toSpendDTO(b),
		}
	}
	return dtos
}

func toDashboardDTO(d *revenue.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		PrincipalID: string(d.PrincipalID),
		Timezone:    d.Timezone,
		Today:       toSpendDTO(d.Today),
		Last7Days:   toSpendDTO(d.Last7Days),
		Last30Days:  toSpendDTO(d.Last30Days),
		AllTime:     toSpendDTO(d.AllTime),
		Charts: DashboardCharts{
			Last7Days:    toSpendBuckets(d.Charts.Last7Days),
			Last30Days:   toSpendBuckets(d.Charts.Last30Days),
			Last12Months: toSpendBuckets(d.Charts.Last12Months),
		},
	}
	if d.Subscription != nil {
		dto.Tier = string(d.Subscription.Tier)
		dto.Status = string(d.Subscription.Status)
	}
	return dto
}

func toAdjustmentDTO(a generic.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:          string(a.ID),
		Type:        string(a.Type),
		Category:    a.Category,
		Amount:      money(a.Amount),
		Date:        a.Date,
		Description: a.Description,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.Format(time.RFC3339),
	}
}

func toBackfillRunDTO(r generic.BackfillRun) BackfillRunDTO {
	dto := BackfillRunDTO{
		ID:        r.ID,
		Mode:      r.Mode,
		Status:    string(r.Status),
		Scanned:   r.Scanned,
		Patched:   r.Patched,
		Skipped:   r.Skipped,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}
