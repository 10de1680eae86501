package billing

import (
	"context"
	"errors"

	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
	"github.com/dmitrymomot/tierkit/pkg/usage"
)

// ClassifyError maps domain errors to HTTP errors. It is a
// handler.ErrorClassifier.
func ClassifyError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, subscription.ErrConflictingSubscription):
		return handler.ErrConflict.WithKey("subscription_conflict"), true
	case errors.Is(err, subscription.ErrBillingGateway):
		return handler.ErrBadGateway.WithKey("billing_gateway_error"), true
	case errors.Is(err, subscription.ErrConcurrentUpdateConflict):
		return handler.ErrServiceUnavailable.WithKey("concurrent_update"), true
	case errors.Is(err, subscription.ErrStoreFailure),
		errors.Is(err, usage.ErrStoreFailure),
		errors.Is(err, usage.ErrTierUnavailable):
		return handler.ErrServiceUnavailable, true
	case errors.Is(err, tier.ErrUnknownTier), errors.Is(err, subscription.ErrInvalidCheckoutTier):
		return handler.ErrBadRequest.WithKey("invalid_tier"), true
	case errors.Is(err, subscription.ErrUnknownConflictMode):
		return handler.ErrBadRequest.WithKey("invalid_conflict_mode"), true
	case errors.Is(err, subscription.ErrNoBillingCustomer):
		return handler.ErrBadRequest.WithKey("no_billing_customer"), true
	case errors.Is(err, usage.ErrUnknownQuota):
		return handler.ErrBadRequest.WithKey("unknown_quota"), true
	case errors.Is(err, usage.ErrInvalidAmount):
		return handler.ErrBadRequest.WithKey("invalid_amount"), true
	case errors.Is(err, ErrMissingAccount), errors.Is(err, ErrInvalidAccount):
		return handler.ErrUnauthorized.WithKey("account_required"), true
	case errors.Is(err, context.DeadlineExceeded):
		return handler.ErrGatewayTimeout, true
	}
	return handler.HTTPError{}, false
}
