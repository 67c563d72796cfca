// Package platform holds the interfaces the defense layer consumes from the
// surrounding streaming platform. The platform side owns the
// implementations; only the contracts live here.
package platform

import "context"

// Identity is the authenticated caller attached to a request by the
// upstream identity provider.
type Identity struct {
	UserID           string
	Role             string
	SubscriptionTier string
}

// IdentityProvider resolves the identity bound to a request token.
type IdentityProvider interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// PaymentMethodInfo is the minimal risk surface of a stored payment method.
type PaymentMethodInfo struct {
	FundingType        string // credit, debit, prepaid, unknown
	VerificationStatus string // pass, fail, unavailable, unchecked
}

// PaymentProcessor exposes payment-method risk attributes. Consulted by the
// fraud engine only; all billing flows live elsewhere.
type PaymentProcessor interface {
	PaymentMethod(ctx context.Context, ref string) (PaymentMethodInfo, error)
}

// MediaScores are classifier confidences in [0,1] for a media submission.
type MediaScores struct {
	Inappropriate float64
	Violence      float64
	Adult         float64
	Spam          float64
}

// MediaClassifier is the external image/video/audio classifier the content
// moderator delegates to.
type MediaClassifier interface {
	Classify(ctx context.Context, contentRef, contentType string) (MediaScores, error)
}
