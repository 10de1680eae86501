package entitlement

import (
	"errors"
	"slices"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// Status mirrors the persisted subscription status.
type Status string

const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Reason explains how the effective tier was derived.
type Reason string

const (
	ReasonActive        Reason = "active"
	ReasonGrace         Reason = "grace"
	ReasonGraceExpired  Reason = "grace_expired"
	ReasonPeriodElapsed Reason = "period_elapsed"
	ReasonInactive      Reason = "inactive"
	ReasonUnknownTier   Reason = "unknown_tier"
	ReasonFree          Reason = "free"
)

// DefaultGracePeriod is how long a past-due subscription keeps its tier.
const DefaultGracePeriod = 72 * time.Hour

// State is the subset of an account record that drives entitlements.
type State struct {
	Tier         tier.Name
	Status       Status
	PeriodEnd    *time.Time
	PastDueSince *time.Time
}

// Policy holds the tunable parts of evaluation.
type Policy struct {
	GracePeriod time.Duration
}

// Capabilities is the result of evaluating a State at a point in time.
type Capabilities struct {
	EffectiveTier tier.Name
	Granted       []tier.Feature
	Reason        Reason
	// Stale is set when the record claims Active but its period already
	// ended, meaning a renewal event was missed and the record needs a resync.
	Stale bool
	// GraceEndsAt is set while a past-due subscription is inside its grace window.
	GraceEndsAt *time.Time
	// Err carries tier.ErrUnknownTier when the stored tier was not recognised.
	Err error
}

// Has reports whether f is granted.
func (c Capabilities) Has(f tier.Feature) bool {
	_, found := slices.BinarySearch(c.Granted, f)
	return found
}

// Evaluate maps a subscription state to the capabilities it grants at now.
// It is pure: the same inputs always produce the same result.
func Evaluate(catalog *tier.Catalog, s State, now time.Time, p Policy) Capabilities {
	effective, reason, caps := resolve(catalog, s, now, p)

	granted, err := catalog.FeaturesUpTo(effective)
	if err != nil {
		// Only reachable if the catalog has no free tier, which NewCatalog rejects.
		granted = nil
	}
	caps.EffectiveTier = effective
	caps.Granted = granted
	caps.Reason = reason
	return caps
}

func resolve(catalog *tier.Catalog, s State, now time.Time, p Policy) (tier.Name, Reason, Capabilities) {
	var caps Capabilities

	if s.Tier == "" || s.Tier == tier.Free {
		return tier.Free, ReasonFree, caps
	}
	if !catalog.Has(s.Tier) {
		caps.Err = errors.Join(tier.ErrUnknownTier, errors.New(string(s.Tier)))
		return tier.Free, ReasonUnknownTier, caps
	}

	switch s.Status {
	case StatusActive:
		if s.PeriodEnd == nil || s.PeriodEnd.After(now) {
			return s.Tier, ReasonActive, caps
		}
		caps.Stale = true
		return tier.Free, ReasonPeriodElapsed, caps

	case StatusPastDue:
		anchor := s.PastDueSince
		if anchor == nil {
			anchor = s.PeriodEnd
		}
		if anchor == nil || p.GracePeriod <= 0 {
			return tier.Free, ReasonGraceExpired, caps
		}
		ends := anchor.Add(p.GracePeriod)
		if now.Before(ends) {
			caps.GraceEndsAt = &ends
			return s.Tier, ReasonGrace, caps
		}
		return tier.Free, ReasonGraceExpired, caps

	default:
		return tier.Free, ReasonInactive, caps
	}
}
