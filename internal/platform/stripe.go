package platform

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentmethod"
)

// StripeProcessor implements PaymentProcessor against the Stripe API.
type StripeProcessor struct{}

// NewStripeProcessor configures the Stripe client with the given API key.
func NewStripeProcessor(apiKey string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{}
}

// PaymentMethod fetches the funding type and CVC verification status for a
// stored card.
func (s *StripeProcessor) PaymentMethod(_ context.Context, ref string) (PaymentMethodInfo, error) {
	pm, err := paymentmethod.Get(ref, nil)
	if err != nil {
		return PaymentMethodInfo{}, fmt.Errorf("get payment method: %w", err)
	}

	info := PaymentMethodInfo{FundingType: "unknown", VerificationStatus: "unchecked"}
	if pm.Card != nil {
		info.FundingType = string(pm.Card.Funding)
		if pm.Card.Checks != nil {
			info.VerificationStatus = string(pm.Card.Checks.CVCCheck)
		}
	}
	return info, nil
}
