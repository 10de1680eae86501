package subscription

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetadataAccountID = "account_id"
	MetadataTier      = "tier"
	MetadataPriceRef  = "price_ref"
)

// StripeConfig holds Stripe credentials and redirect targets.
type StripeConfig struct {
	SecretKey       string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret   string `env:"STRIPE_WEBHOOK_SECRET,required"`
	SuccessURL      string `env:"STRIPE_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success"`
	CancelURL       string `env:"STRIPE_CANCEL_URL" envDefault:"http://localhost:8080/billing/cancel"`
	PortalReturnURL string `env:"STRIPE_PORTAL_RETURN_URL" envDefault:"http://localhost:8080/billing"`
}

// StripeAPI is the slice of the Stripe client the gateway calls. Nil fields
// fall back to the real API.
type StripeAPI struct {
	NewCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CancelSubscription func(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	NewPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	GetSubscription    func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// StripeGateway implements BillingGateway on top of Stripe and translates
// Stripe webhooks into Events.
type StripeGateway struct {
	cfg StripeConfig
	api StripeAPI
}

type StripeOption func(*StripeGateway)

// WithStripeAPI replaces Stripe API calls, typically in tests.
func WithStripeAPI(api StripeAPI) StripeOption {
	return func(g *StripeGateway) {
		if api.NewCheckoutSession != nil {
			g.api.NewCheckoutSession = api.NewCheckoutSession
		}
		if api.CancelSubscription != nil {
			g.api.CancelSubscription = api.CancelSubscription
		}
		if api.NewPortalSession != nil {
			g.api.NewPortalSession = api.NewPortalSession
		}
		if api.GetSubscription != nil {
			g.api.GetSubscription = api.GetSubscription
		}
	}
}

// NewStripeGateway configures the global Stripe key and returns a gateway.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) (*StripeGateway, error) {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.WebhookSecret = strings.TrimSpace(cfg.WebhookSecret)
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	stripe.Key = cfg.SecretKey

	g := &StripeGateway{
		cfg: cfg,
		api: StripeAPI{
			NewCheckoutSession: checkoutsession.New,
			CancelSubscription: stripesubscription.Cancel,
			NewPortalSession:   portalsession.New,
			GetSubscription:    stripesubscription.Get,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	successURL := cmp.Or(req.SuccessURL, g.cfg.SuccessURL)
	cancelURL := cmp.Or(req.CancelURL, g.cfg.CancelURL)
	metadata := map[string]string{
		MetadataAccountID: req.AccountID.String(),
		MetadataTier:      string(req.Tier),
		MetadataPriceRef:  req.PriceRef,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.AccountID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.api.NewCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, ErrMissingCheckoutURL
	}
	out := &CheckoutSession{ID: s.ID, URL: s.URL}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey("cancel-" + subscriptionRef)
	if _, err := g.api.CancelSubscription(subscriptionRef, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionRef, err)
	}
	return nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerRef),
		ReturnURL: stripe.String(cmp.Or(returnURL, g.cfg.PortalReturnURL)),
	}
	params.Context = ctx

	s, err := g.api.NewPortalSession(params)
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, ErrMissingPortalURL
	}
	return &PortalSession{URL: s.URL}, nil
}

// FetchSubscription reads a subscription from Stripe. The event ID and
// sequence derive from the fetch time, so webhooks created before the fetch
// are stale against the result.
func (g *StripeGateway) FetchSubscription(ctx context.Context, subscriptionRef string) (Event, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.GetSubscription(subscriptionRef, params)
	if err != nil {
		return Event{}, fmt.Errorf("get subscription %s: %w", subscriptionRef, err)
	}
	if sub == nil {
		return Event{}, fmt.Errorf("get subscription %s: %w", subscriptionRef, ErrInvalidEvent)
	}

	now := time.Now().UTC()
	ev := Event{
		ID:              fmt.Sprintf("resync_%s_%d", sub.ID, now.UnixNano()),
		Type:            EventSubscriptionUpdated,
		ProviderType:    "subscription.retrieve",
		Sequence:        now.Unix(),
		OccurredAt:      now,
		SubscriptionRef: sub.ID,
		AccountID:       accountFrom("", sub.Metadata),
		Status:          mapStripeStatus(string(sub.Status)),
	}
	if sub.Customer != nil {
		ev.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.Price != nil {
			ev.PriceRef = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			ev.PeriodEnd = &end
		}
	}
	if ev.Status == StatusCanceled {
		ev.Type = EventSubscriptionDeleted
		ev.Status = ""
		ev.PriceRef = ""
		ev.PeriodEnd = nil
	}
	return ev, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the payload to
// an Event. Event types the engine does not act on map to EventUnknown.
// AccountID is left empty when the payload carries no account metadata; the
// caller resolves it from CustomerRef.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Event, error) {
	se, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Join(ErrWebhookVerification, err)
	}

	ev := Event{
		ID:           se.ID,
		Type:         EventUnknown,
		ProviderType: string(se.Type),
		Sequence:     se.Created,
		OccurredAt:   time.Unix(se.Created, 0).UTC(),
	}
	if se.Data == nil {
		return ev, nil
	}
	raw := se.Data.Raw

	switch string(se.Type) {
	case "checkout.session.completed":
		var s stripeCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return Event{}, errors.Join(ErrInvalidEvent, err)
		}
		if s.Mode != "" && s.Mode != string(stripe.CheckoutSessionModeSubscription) {
			return ev, nil
		}
		ev.Type = EventCheckoutCompleted
		ev.CustomerRef = refID(s.Customer)
		ev.SubscriptionRef = refID(s.Subscription)
		ev.PriceRef = s.Metadata[MetadataPriceRef]
		ev.AccountID = accountFrom(s.ClientReferenceID, s.Metadata)

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return Event{}, errors.Join(ErrInvalidEvent, err)
		}
		ev.Type = EventPaymentSucceeded
		if se.Type == "invoice.payment_failed" {
			ev.Type = EventPaymentFailed
		}
		ev.CustomerRef = refID(inv.Customer)
		ev.SubscriptionRef, ev.AccountID = inv.subscription()
		ev.PeriodEnd = inv.periodEnd()

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return Event{}, errors.Join(ErrInvalidEvent, err)
		}
		ev.CustomerRef = refID(sub.Customer)
		ev.SubscriptionRef = sub.ID
		ev.AccountID = accountFrom("", sub.Metadata)
		if se.Type == "customer.subscription.deleted" {
			ev.Type = EventSubscriptionDeleted
			break
		}
		ev.Type = EventSubscriptionUpdated
		ev.Status = mapStripeStatus(sub.Status)
		ev.PriceRef, ev.PeriodEnd = sub.priceAndPeriodEnd()
	}
	return ev, nil
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          json.RawMessage   `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID           string          `json:"id"`
	Customer     json.RawMessage `json:"customer"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// subscription handles both the legacy top-level field and the newer
// parent.subscription_details shape.
func (inv stripeInvoice) subscription() (string, uuid.UUID) {
	ref := refID(inv.Subscription)
	var metadata map[string]string
	if inv.SubscriptionDetails != nil {
		metadata = inv.SubscriptionDetails.Metadata
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if ref == "" {
			ref = refID(inv.Parent.SubscriptionDetails.Subscription)
		}
		if metadata == nil {
			metadata = inv.Parent.SubscriptionDetails.Metadata
		}
	}
	return ref, accountFrom("", metadata)
}

func (inv stripeInvoice) periodEnd() *time.Time {
	var end int64
	for _, line := range inv.Lines.Data {
		end = max(end, line.Period.End)
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         json.RawMessage   `json:"customer"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s stripeSubscription) priceAndPeriodEnd() (string, *time.Time) {
	var price string
	end := s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		price = s.Items.Data[0].Price.ID
		if e := s.Items.Data[0].CurrentPeriodEnd; e > 0 {
			end = e
		}
	}
	if end == 0 {
		return price, nil
	}
	t := time.Unix(end, 0).UTC()
	return price, &t
}

func mapStripeStatus(s string) Status {
	switch s {
	case "active", "trialing":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	case "incomplete", "paused":
		return StatusIncomplete
	}
	return ""
}

// refID reads an expandable Stripe field that is either an ID string or an
// object with an id.
func refID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func accountFrom(clientRef string, metadata map[string]string) uuid.UUID {
	for _, v := range []string{clientRef, metadata[MetadataAccountID]} {
		if id, err := uuid.Parse(strings.TrimSpace(v)); err == nil {
			return id
		}
	}
	return uuid.Nil
}
