package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

type checkoutRequest struct {
	Tier tier.Name `json:"tier"`
	// Mode may only tighten the configured conflict mode: "strict" turns off
	// auto replacement for this request, "auto_replace" never turns it on.
	Mode string `json:"mode,omitempty"`
}

type checkoutResponse struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func (m *module) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	if req.Tier == "" {
		return handler.JSONError(handler.ErrBadRequest.WithKey("tier_required"))
	}

	mode := m.opts.ConflictMode
	if req.Mode != "" {
		requested, err := subscription.ParseConflictMode(req.Mode)
		if err != nil {
			return m.fail(ctx, err)
		}
		if requested == subscription.ConflictStrict {
			mode = requested
		}
	}

	session, err := m.opts.Checkout.RequestCheckout(ctx, accountID(ctx), req.Tier, mode, m.opts.CheckoutURLs)
	if err != nil {
		var conflict *subscription.ConflictError
		if errors.As(err, &conflict) {
			return m.fail(ctx, err,
				handler.WithErrorMessage(m.conflictMessage()),
				handler.WithErrorDetails(map[string]any{
					"current_tier":   conflict.Current,
					"requested_tier": conflict.Requested,
				}),
			)
		}
		return m.fail(ctx, err)
	}

	return handler.JSON(checkoutResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		ExpiresAt:   session.ExpiresAt,
	}, handler.WithJSONStatus(http.StatusCreated))
}

func (m *module) conflictMessage() string {
	if m.opts.ConflictMode == subscription.ConflictAutoReplace {
		return "An active subscription already exists. Cancel it or request the checkout without mode strict."
	}
	return "An active subscription already exists. Cancel it from the billing portal first."
}

type portalResponse struct {
	URL string `json:"url"`
}

func (m *module) portal(ctx handler.Context, _ struct{}) handler.Response {
	session, err := m.opts.Checkout.PortalSession(ctx, accountID(ctx), m.opts.PortalReturnURL)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(portalResponse{URL: session.URL})
}
