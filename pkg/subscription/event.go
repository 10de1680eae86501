package subscription

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the provider-neutral kind of a billing event.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventUnknown             EventType = "unknown"
)

// Event is a verified, normalised billing provider notification.
type Event struct {
	// ID is the provider event identifier, used for duplicate detection.
	ID   string
	Type EventType
	// ProviderType keeps the raw provider event name for logs.
	ProviderType string
	// Sequence orders events of one account. Higher is newer.
	Sequence   int64
	OccurredAt time.Time

	AccountID       uuid.UUID
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	// Status is only set by subscription updates.
	Status    Status
	PeriodEnd *time.Time
}

// Outcome is what the processor did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeMismatch  Outcome = "mismatch"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeInvalid   Outcome = "invalid"
)

// Err returns the sentinel matching a non-applied outcome, or nil.
func (o Outcome) Err() error {
	switch o {
	case OutcomeStale:
		return ErrStaleEvent
	case OutcomeMismatch:
		return ErrSubscriptionMismatch
	case OutcomeInvalid:
		return ErrInvalidEvent
	}
	return nil
}
