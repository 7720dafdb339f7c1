package payments

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
)

func TestChargeToRaw(t *testing.T) {
	ch := &stripe.Charge{
		ID:      "ch_123",
		Amount:  89900,
		Created: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC).Unix(),
		Status:  stripe.ChargeStatusSucceeded,
		Metadata: map[string]string{
			"type":           SubtypeSubscription,
			"principal_id":   "p-1",
			"billing_reason": "subscription_create",
		},
	}

	raw := chargeToRaw(ch)

	assert.Equal(t, "ch_123", raw.ID)
	assert.True(t, raw.Amount.Equal(decimal.RequireFromString("899.00")))
	assert.Equal(t, SubtypeSubscription, raw.Subtype)
	assert.Equal(t, "p-1", raw.PayerID)
	assert.Equal(t, StatusSucceeded, raw.Status)
	assert.True(t, raw.FirstOccurrence)
	assert.Equal(t, time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC), raw.OccurredAt)
}

func TestChargeToRaw_Renewal(t *testing.T) {
	raw := chargeToRaw(&stripe.Charge{ID: "ch_1", Metadata: map[string]string{"billing_reason": "subscription_cycle"}})
	assert.False(t, raw.FirstOccurrence)
	assert.Empty(t, raw.PayerID)
}

func TestMapStripeError(t *testing.T) {
	down := mapStripeError(&stripe.Error{HTTPStatusCode: http.StatusBadGateway, Msg: "upstream"})
	assert.ErrorIs(t, down, ErrProviderDown)

	bad := mapStripeError(&stripe.Error{HTTPStatusCode: http.StatusUnauthorized, Msg: "invalid api key"})
	assert.NotErrorIs(t, bad, ErrProviderDown)
	assert.Contains(t, bad.Error(), "invalid api key")

	plain := errors.New("dial tcp: timeout")
	assert.ErrorIs(t, mapStripeError(plain), plain)
}
