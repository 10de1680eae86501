package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/entitlement"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// Requirement is what a protected operation needs: a feature or a minimum
// tier. Exactly one of the fields is set.
type Requirement struct {
	Feature tier.Feature
	Tier    tier.Name
}

func RequireFeature(f tier.Feature) Requirement { return Requirement{Feature: f} }

func RequireTier(t tier.Name) Requirement { return Requirement{Tier: t} }

func (r Requirement) String() string {
	if r.Feature != "" {
		return "feature:" + string(r.Feature)
	}
	return "tier:" + string(r.Tier)
}

// Denial reasons reported by the guard in addition to entitlement reasons.
const (
	ReasonAccountUnavailable entitlement.Reason = "account_unavailable"
	ReasonInsufficientTier   entitlement.Reason = "insufficient_tier"
	ReasonUnknownRequirement entitlement.Reason = "unknown_requirement"
)

// Decision is the answer to an authorization check.
type Decision struct {
	Allowed       bool
	EffectiveTier tier.Name
	// RequiredTier is the lowest tier that satisfies the requirement, if any.
	RequiredTier tier.Name
	Requirement  Requirement
	Reason       entitlement.Reason
}

// Message is a user-facing explanation of a denial.
func (d Decision) Message() string {
	if d.Allowed {
		return ""
	}
	if d.RequiredTier == "" {
		return "This feature is not available on any plan."
	}
	return fmt.Sprintf("This feature requires a %s subscription or higher. Your current plan: %s", d.RequiredTier, d.EffectiveTier)
}

// Guard evaluates access for accounts against the tier catalog.
type Guard struct {
	store   UserStore
	catalog *tier.Catalog
	policy  entitlement.Policy
	now     func() time.Time
	log     *slog.Logger
	resync  ResyncRequester
}

type GuardOption func(*Guard)

// WithGracePeriod sets how long a past-due account keeps its paid tier.
func WithGracePeriod(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.policy.GracePeriod = d
	}
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithResync asks r to refresh records that are active past their period
// end. Without it such records are only logged.
func WithResync(r ResyncRequester) GuardOption {
	return func(g *Guard) {
		g.resync = r
	}
}

func WithGuardLogger(log *slog.Logger) GuardOption {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

func NewGuard(store UserStore, catalog *tier.Catalog, opts ...GuardOption) *Guard {
	if store == nil {
		panic("subscription: store cannot be nil")
	}
	if catalog == nil {
		panic("subscription: catalog cannot be nil")
	}
	g := &Guard{
		store:   store,
		catalog: catalog,
		policy:  entitlement.Policy{GracePeriod: entitlement.DefaultGracePeriod},
		now:     time.Now,
		log:     logger.Noop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("guard"))
	return g
}

// Capabilities evaluates the account's record at the current time. Accounts
// without a record evaluate as Free. The account is nil in that case.
func (g *Guard) Capabilities(ctx context.Context, id uuid.UUID) (entitlement.Capabilities, *Account, error) {
	acct, err := g.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		acct = NewAccount(id, g.now())
	case err != nil:
		return entitlement.Capabilities{EffectiveTier: tier.Free, Reason: ReasonAccountUnavailable}, nil,
			errors.Join(ErrStoreFailure, err)
	}

	caps := entitlement.Evaluate(g.catalog, acct.State(), g.now(), g.policy)
	if caps.Err != nil {
		g.log.ErrorContext(ctx, "stored tier not in catalog", logger.AccountID(id), logger.Error(caps.Err))
	}
	if caps.Stale {
		staleRecords.Inc()
		g.log.WarnContext(ctx, "active subscription past its period end",
			logger.AccountID(id),
			logger.SubscriptionRef(acct.SubscriptionRef),
		)
		if g.resync != nil {
			g.resync.RequestResync(ctx, id, acct.SubscriptionRef)
		}
	}
	return caps, acct, nil
}

// Authorize decides whether id may use something guarded by req. Store
// failures deny access.
func (g *Guard) Authorize(ctx context.Context, id uuid.UUID, req Requirement) Decision {
	d := Decision{Requirement: req, EffectiveTier: tier.Free}

	switch {
	case req.Feature != "":
		required, ok := g.catalog.RequiredTier(req.Feature)
		if !ok {
			d.Reason = ReasonUnknownRequirement
			return g.decided(ctx, id, d)
		}
		d.RequiredTier = required
	case g.catalog.Has(req.Tier):
		d.RequiredTier = req.Tier
	default:
		d.Reason = ReasonUnknownRequirement
		return g.decided(ctx, id, d)
	}

	caps, _, err := g.Capabilities(ctx, id)
	if err != nil {
		g.log.ErrorContext(ctx, "access check failed closed", logger.AccountID(id), logger.Error(err))
		d.Reason = ReasonAccountUnavailable
		return g.decided(ctx, id, d)
	}

	d.EffectiveTier = caps.EffectiveTier
	d.Reason = caps.Reason
	if req.Feature != "" {
		d.Allowed = caps.Has(req.Feature)
	} else {
		d.Allowed = g.catalog.AtLeast(caps.EffectiveTier, req.Tier)
	}
	if !d.Allowed && (caps.Reason == entitlement.ReasonActive || caps.Reason == entitlement.ReasonFree || caps.Reason == entitlement.ReasonGrace) {
		d.Reason = ReasonInsufficientTier
	}
	return g.decided(ctx, id, d)
}

// EffectiveTier returns the tier currently in force for id.
func (g *Guard) EffectiveTier(ctx context.Context, id uuid.UUID) (tier.Name, error) {
	caps, _, err := g.Capabilities(ctx, id)
	if err != nil {
		return tier.Free, err
	}
	return caps.EffectiveTier, nil
}

// CheckCap reports whether value fits under the static ceiling the account's
// effective tier sets for capName. A tier without the cap allows nothing.
func (g *Guard) CheckCap(ctx context.Context, id uuid.UUID, capName tier.CapName, value int64) (Decision, int64) {
	d := Decision{EffectiveTier: tier.Free}
	caps, _, err := g.Capabilities(ctx, id)
	if err != nil {
		d.Reason = ReasonAccountUnavailable
		return d, 0
	}
	d.EffectiveTier = caps.EffectiveTier
	d.Reason = caps.Reason

	limit, ok := g.catalog.Cap(caps.EffectiveTier, capName)
	if !ok {
		d.Reason = ReasonUnknownRequirement
		return d, 0
	}
	d.Allowed = limit == tier.Unlimited || value <= limit
	if !d.Allowed {
		d.Reason = ReasonInsufficientTier
		for _, t := range g.catalog.Tiers() {
			if v, ok := t.Caps[capName]; ok && (v == tier.Unlimited || value <= v) && g.catalog.AtLeast(t.Name, caps.EffectiveTier) {
				d.RequiredTier = t.Name
				break
			}
		}
	}
	return d, limit
}

func (g *Guard) decided(ctx context.Context, id uuid.UUID, d Decision) Decision {
	result := "denied"
	if d.Allowed {
		result = "allowed"
	}
	authorizeDecisions.WithLabelValues(result).Inc()
	if !d.Allowed {
		g.log.DebugContext(ctx, "access denied",
			logger.AccountID(id),
			slog.String("requirement", d.Requirement.String()),
			logger.Tier("effective_tier", d.EffectiveTier),
			slog.String("reason", string(d.Reason)),
		)
	}
	return d
}
