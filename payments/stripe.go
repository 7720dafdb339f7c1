package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// ErrProviderDown is returned when the processor answers with a 5xx.
var ErrProviderDown = errors.New("payment provider unavailable")

// Charge metadata keys set by checkout.
const (
	metaType          = "type"
	metaPrincipalID   = "principal_id"
	metaBillingReason = "billing_reason"
	metaFirstPayment  = "first_payment"
)

// StripeSource lists charges through the Stripe API, one page per call.
type StripeSource struct {
	client *client.API
}

// NewStripeSource creates a source authenticated with the secret key.
func NewStripeSource(apiKey string) *StripeSource {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeSource{client: sc}
}

func (s *StripeSource) ListPage(ctx context.Context, req PageRequest) (Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	params := &stripe.ChargeListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
			Limit:   stripe.Int64(int64(limit)),
			// One request per ListPage; Fetcher owns the pagination loop.
			Single: true,
		},
	}
	if !req.Since.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: req.Since.Unix()}
	}
	if req.Cursor != "" {
		params.StartingAfter = stripe.String(req.Cursor)
	}

	it := s.client.Charges.List(params)

	var page Page
	for it.Next() {
		page.Items = append(page.Items, chargeToRaw(it.Charge()))
	}
	if err := it.Err(); err != nil {
		return Page{}, mapStripeError(err)
	}
	if list := it.ChargeList(); list != nil {
		page.HasMore = list.HasMore
	}
	return page, nil
}

func chargeToRaw(ch *stripe.Charge) RawTransaction {
	meta := ch.Metadata
	return RawTransaction{
		ID:         ch.ID,
		Amount:     decimal.New(ch.Amount, -2),
		OccurredAt: time.Unix(ch.Created, 0).UTC(),
		Subtype:    meta[metaType],
		PayerID:    meta[metaPrincipalID],
		Status:     string(ch.Status),
		FirstOccurrence: meta[metaBillingReason] == "subscription_create" ||
			meta[metaFirstPayment] == "true",
	}
}

// mapStripeError keeps stripe-go types out of the callers.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrProviderDown, stripeErr.Msg)
		}
		if stripeErr.Code == stripe.ErrorCodeRateLimit {
			return fmt.Errorf("stripe rate limited: %w", err)
		}
		return fmt.Errorf("stripe request failed (%d): %s", stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
	return fmt.Errorf("stripe list charges: %w", err)
}
