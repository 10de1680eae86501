package subscription

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

var (
	ErrAccountNotFound          = errors.New("subscription: account not found")
	ErrStaleEvent               = errors.New("subscription: event older than last applied")
	ErrSubscriptionMismatch     = errors.New("subscription: event references another subscription")
	ErrInvalidEvent             = errors.New("subscription: invalid billing event")
	ErrConflictingSubscription  = errors.New("subscription: account already has a live subscription")
	ErrInvalidCheckoutTier      = errors.New("subscription: tier cannot be purchased")
	ErrUnknownConflictMode      = errors.New("subscription: unknown conflict mode")
	ErrNoBillingCustomer        = errors.New("subscription: account has no billing customer")
	ErrBillingGateway           = errors.New("subscription: billing gateway failure")
	ErrConcurrentUpdateConflict = errors.New("subscription: concurrent update conflict")
	ErrStoreFailure             = errors.New("subscription: account store failure")
	ErrWebhookVerification      = errors.New("subscription: webhook signature verification failed")
	ErrMissingAPIKey            = errors.New("subscription: billing api key is required")
	ErrMissingWebhookSecret     = errors.New("subscription: webhook secret is required")
	ErrMissingCheckoutURL       = errors.New("subscription: no checkout url returned")
	ErrMissingPortalURL         = errors.New("subscription: no portal url returned")
)

// ConflictError is returned when a checkout would create a second live
// subscription. It matches ErrConflictingSubscription with errors.Is.
type ConflictError struct {
	Current   tier.Name
	Requested tier.Name
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: current %s, requested %s", ErrConflictingSubscription, e.Current, e.Requested)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflictingSubscription
}
