package subscription

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/entitlement"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// Status is the persisted state of an account's subscription.
type Status = entitlement.Status

const (
	StatusActive     = entitlement.StatusActive
	StatusPastDue    = entitlement.StatusPastDue
	StatusCanceled   = entitlement.StatusCanceled
	StatusIncomplete = entitlement.StatusIncomplete
)

// maxRecentEvents bounds the per-account memory of applied event IDs.
const maxRecentEvents = 32

// Account is the subscription record of a single user account.
//
// A Free account never carries a SubscriptionRef, and a paid account always
// does. CustomerRef is written once and never replaced.
type Account struct {
	ID              uuid.UUID
	CustomerRef     string
	Tier            tier.Name
	Status          Status
	SubscriptionRef string
	PeriodEnd       *time.Time
	PastDueSince    *time.Time

	// LastEventSequence is the provider ordering key of the newest applied
	// event for SubscriptionRef. It restarts whenever the reference changes.
	LastEventSequence int64
	RecentEventIDs    []string

	// CancelingRef names a subscription whose cancellation was confirmed by
	// the provider but whose deletion event has not arrived yet.
	CancelingRef string

	// Version is bumped by the store on every successful write.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount returns the default record for an account with no billing history.
func NewAccount(id uuid.UUID, now time.Time) *Account {
	return &Account{
		ID:        id,
		Tier:      tier.Free,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.PeriodEnd = cloneTime(a.PeriodEnd)
	c.PastDueSince = cloneTime(a.PastDueSince)
	c.RecentEventIDs = slices.Clone(a.RecentEventIDs)
	return &c
}

// State projects the fields that drive entitlement evaluation.
func (a *Account) State() entitlement.State {
	return entitlement.State{
		Tier:         a.Tier,
		Status:       a.Status,
		PeriodEnd:    a.PeriodEnd,
		PastDueSince: a.PastDueSince,
	}
}

// IsFree reports whether the account has no paid subscription on record.
func (a *Account) IsFree() bool {
	return a.Tier == "" || a.Tier == tier.Free
}

// HasLiveSubscription reports whether the provider may still bill the account
// for its recorded subscription.
func (a *Account) HasLiveSubscription() bool {
	if a.SubscriptionRef == "" || a.CancelingRef == a.SubscriptionRef {
		return false
	}
	switch a.Status {
	case StatusActive, StatusPastDue, StatusIncomplete:
		return true
	}
	return false
}

func (a *Account) seen(eventID string) bool {
	return slices.Contains(a.RecentEventIDs, eventID)
}

func (a *Account) remember(eventID string) {
	a.RecentEventIDs = append(a.RecentEventIDs, eventID)
	if n := len(a.RecentEventIDs); n > maxRecentEvents {
		a.RecentEventIDs = slices.Clone(a.RecentEventIDs[n-maxRecentEvents:])
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
