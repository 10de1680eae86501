package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// BillingGateway is the outbound side of a billing provider.
type BillingGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*PortalSession, error)
}

// SubscriptionFetcher reads the provider's current view of a subscription
// and returns it as an Event the Processor can apply. Cancelled subscriptions
// come back as EventSubscriptionDeleted.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionRef string) (Event, error)
}

// WebhookParser verifies an inbound provider notification and translates it
// into an Event. Verification failures wrap ErrWebhookVerification and
// undecodable payloads wrap ErrInvalidEvent.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// CheckoutRequest carries everything the provider needs to start a purchase.
type CheckoutRequest struct {
	AccountID   uuid.UUID
	Tier        tier.Name
	PriceRef    string
	CustomerRef string // empty for first purchase
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is a hosted checkout the user is redirected to.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// PortalSession is a hosted self-service billing page.
type PortalSession struct {
	URL string
}
