package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// ConflictMode selects what a checkout does when the account already pays
// for a live subscription.
type ConflictMode string

const (
	// ConflictStrict rejects the checkout with a ConflictError.
	ConflictStrict ConflictMode = "strict"
	// ConflictAutoReplace cancels the live subscription before creating the
	// new checkout.
	ConflictAutoReplace ConflictMode = "auto_replace"
)

// ParseConflictMode parses a configuration value. Empty means strict.
func ParseConflictMode(s string) (ConflictMode, error) {
	switch ConflictMode(s) {
	case "", ConflictStrict:
		return ConflictStrict, nil
	case ConflictAutoReplace:
		return ConflictAutoReplace, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownConflictMode, s)
}

// CheckoutURLs overrides the gateway's configured redirect targets.
type CheckoutURLs struct {
	SuccessURL string
	CancelURL  string
}

// Orchestrator creates checkout and portal sessions while keeping at most one
// live subscription per account. It never writes tier or status: those only
// change when the provider confirms through a webhook.
type Orchestrator struct {
	store      UserStore
	catalog    *tier.Catalog
	gateway    BillingGateway
	timeout    time.Duration
	log        *slog.Logger
	now        func() time.Time
	maxRetries int
	backoff    time.Duration
}

type OrchestratorOption func(*Orchestrator)

// WithGatewayTimeout bounds every gateway call.
func WithGatewayTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithOrchestratorLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithOrchestratorRetries(n int, backoff time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
		if backoff >= 0 {
			o.backoff = backoff
		}
	}
}

func NewOrchestrator(store UserStore, catalog *tier.Catalog, gateway BillingGateway, opts ...OrchestratorOption) *Orchestrator {
	if store == nil {
		panic("subscription: store cannot be nil")
	}
	if catalog == nil {
		panic("subscription: catalog cannot be nil")
	}
	if gateway == nil {
		panic("subscription: gateway cannot be nil")
	}
	o := &Orchestrator{
		store:      store,
		catalog:    catalog,
		gateway:    gateway,
		timeout:    10 * time.Second,
		log:        logger.Noop(),
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(logger.Component("checkout"))
	return o
}

// RequestCheckout starts a purchase of requested for accountID.
//
// If the account already has a live subscription the result depends on mode:
// ConflictStrict returns a *ConflictError without touching the gateway, and
// ConflictAutoReplace cancels the live subscription first. Asking for the tier
// the account already pays for is a conflict in both modes.
func (o *Orchestrator) RequestCheckout(ctx context.Context, accountID uuid.UUID, requested tier.Name, mode ConflictMode, urls CheckoutURLs) (*CheckoutSession, error) {
	t, err := o.catalog.Lookup(requested)
	if err != nil {
		return nil, err
	}
	if requested == tier.Free || t.PriceRef == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCheckoutTier, requested)
	}

	log := o.log.With(logger.AccountID(accountID), logger.Tier("requested_tier", requested))

	acct, err := o.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if acct.HasLiveSubscription() {
		conflict := &ConflictError{Current: acct.Tier, Requested: requested}
		if mode != ConflictAutoReplace || acct.Tier == requested {
			log.InfoContext(ctx, "checkout rejected, live subscription exists", logger.Tier("current_tier", acct.Tier))
			return nil, conflict
		}

		ref := acct.SubscriptionRef
		log.InfoContext(ctx, "replacing live subscription", logger.SubscriptionRef(ref))
		if _, err := callGateway(ctx, o.timeout, "cancel", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.gateway.CancelSubscription(ctx, ref)
		}); err != nil {
			log.ErrorContext(ctx, "cancel of live subscription failed", logger.Error(err))
			return nil, err
		}
		if err := o.markCanceling(ctx, acct, ref); err != nil {
			log.WarnContext(ctx, "subscription replacement lost a race", logger.Error(err))
			return nil, err
		}
	}

	session, err := callGateway(ctx, o.timeout, "checkout", func(ctx context.Context) (*CheckoutSession, error) {
		return o.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
			AccountID:   accountID,
			Tier:        requested,
			PriceRef:    t.PriceRef,
			CustomerRef: acct.CustomerRef,
			SuccessURL:  urls.SuccessURL,
			CancelURL:   urls.CancelURL,
		})
	})
	if err != nil {
		log.ErrorContext(ctx, "checkout session failed", logger.Error(err))
		return nil, err
	}
	log.InfoContext(ctx, "checkout session created", slog.String("session_id", session.ID))
	return session, nil
}

// PortalSession opens the provider's self-service page for accountID.
func (o *Orchestrator) PortalSession(ctx context.Context, accountID uuid.UUID, returnURL string) (*PortalSession, error) {
	acct, err := o.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.CustomerRef == "" {
		return nil, ErrNoBillingCustomer
	}
	return callGateway(ctx, o.timeout, "portal", func(ctx context.Context) (*PortalSession, error) {
		return o.gateway.CreatePortalSession(ctx, acct.CustomerRef, returnURL)
	})
}

func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*Account, error) {
	acct, err := o.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return NewAccount(id, o.now()), nil
	case err != nil:
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return acct, nil
}

// markCanceling records that ref was cancelled at the provider, so the
// account stops counting it as live before the deletion webhook lands.
// Exactly one concurrent replacer wins; the others get
// ErrConcurrentUpdateConflict.
func (o *Orchestrator) markCanceling(ctx context.Context, acct *Account, ref string) error {
	current := acct
	for attempt := range o.maxRetries {
		if current.SubscriptionRef != ref {
			// The deletion or a newer checkout already landed.
			return nil
		}

		next := current.Clone()
		next.CancelingRef = ref
		next.UpdatedAt = o.now()
		ok, err := o.store.CompareAndSwap(ctx, current.Version, next)
		if err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
		if ok {
			return nil
		}

		casRetries.WithLabelValues("checkout").Inc()
		if err := sleepBackoff(ctx, o.backoff, attempt); err != nil {
			return err
		}
		if current, err = o.load(ctx, acct.ID); err != nil {
			return err
		}
		if current.CancelingRef == ref {
			return ErrConcurrentUpdateConflict
		}
	}
	return ErrConcurrentUpdateConflict
}

// callGateway runs fn under timeout and returns as soon as the deadline
// passes, even if fn ignores its context.
func callGateway[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	status := "ok"
	if r.err != nil {
		status = "error"
		r.err = errors.Join(ErrBillingGateway, r.err)
	}
	gatewayDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return r.v, r.err
}
