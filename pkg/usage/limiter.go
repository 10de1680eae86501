package usage

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

// TierResolver returns the effective tier of an account right now.
type TierResolver func(ctx context.Context, accountID uuid.UUID) (tier.Name, error)

// expirySlack keeps a counter readable briefly after its window closes so
// Status calls racing the boundary still see the final value.
const expirySlack = time.Hour

// Result describes a quota after a Consume or Status call.
type Result struct {
	Allowed   bool
	Tier      tier.Name
	Quota     tier.QuotaName
	Limit     int64
	Used      int64
	Remaining int64 // tier.Unlimited when the quota is unlimited
	ResetAt   time.Time
}

// RetryAfter returns how long a rejected caller should wait before retrying.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	return max(r.ResetAt.Sub(now), 0)
}

// Limiter enforces per-tier quotas on wall-clock windows.
type Limiter struct {
	catalog  *tier.Catalog
	store    Store
	resolver TierResolver
	prefix   string
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithKeyPrefix namespaces counter keys, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLimiter builds a Limiter. It panics on nil dependencies to surface
// wiring mistakes at startup.
func NewLimiter(catalog *tier.Catalog, store Store, resolver TierResolver, opts ...Option) *Limiter {
	if catalog == nil {
		panic("usage: catalog is required")
	}
	if store == nil {
		panic("usage: store is required")
	}
	if resolver == nil {
		panic("usage: tier resolver is required")
	}
	l := &Limiter{
		catalog:  catalog,
		store:    store,
		resolver: resolver,
		prefix:   "usage",
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume records amount units of quota for the account if the current
// window still has room. A rejected call consumes nothing.
func (l *Limiter) Consume(ctx context.Context, accountID uuid.UUID, quota tier.QuotaName, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}

	res, q, key, err := l.prepare(ctx, accountID, quota)
	if err != nil {
		return res, err
	}

	_, end := q.Window.Bounds(l.now())
	allowed, used, err := l.store.IncrementWithin(ctx, key, amount, q.Limit, end.Add(expirySlack))
	if err != nil {
		return res, err
	}

	res.Allowed = allowed
	res.Used = used
	res.Remaining = remaining(q.Limit, used)
	if !allowed {
		rejections.WithLabelValues(string(res.Tier), string(quota)).Inc()
		l.log.DebugContext(ctx, "usage quota exceeded",
			logger.AccountID(accountID),
			logger.Tier("tier", res.Tier),
			logger.Quota(quota),
			slog.Int64("used", used),
			slog.Int64("limit", q.Limit),
		)
	}
	return res, nil
}

// Status reports the current window without consuming.
func (l *Limiter) Status(ctx context.Context, accountID uuid.UUID, quota tier.QuotaName) (Result, error) {
	res, q, key, err := l.prepare(ctx, accountID, quota)
	if err != nil {
		return res, err
	}
	used, err := l.store.Get(ctx, key)
	if err != nil {
		return res, err
	}
	res.Used = used
	res.Remaining = remaining(q.Limit, used)
	res.Allowed = q.IsUnlimited() || used < q.Limit
	return res, nil
}

// Reset clears the current window's counter for the account.
func (l *Limiter) Reset(ctx context.Context, accountID uuid.UUID, quota tier.QuotaName) error {
	_, _, key, err := l.prepare(ctx, accountID, quota)
	if err != nil {
		return err
	}
	return l.store.Delete(ctx, key)
}

func (l *Limiter) prepare(ctx context.Context, accountID uuid.UUID, quota tier.QuotaName) (Result, tier.Quota, string, error) {
	name, err := l.resolver(ctx, accountID)
	if err != nil {
		return Result{Quota: quota}, tier.Quota{}, "", errors.Join(ErrTierUnavailable, err)
	}

	q, ok := l.catalog.Quota(name, quota)
	if !ok {
		return Result{Tier: name, Quota: quota}, tier.Quota{}, "", fmt.Errorf("%w: %s on %s", ErrUnknownQuota, quota, name)
	}

	now := l.now()
	_, end := q.Window.Bounds(now)
	res := Result{Tier: name, Quota: quota, Limit: q.Limit, ResetAt: end}
	key := fmt.Sprintf("%s:%s:%s:%s", l.prefix, accountID, quota, q.Window.Bucket(now))
	return res, q, key, nil
}

func remaining(limit, used int64) int64 {
	if limit == tier.Unlimited {
		return tier.Unlimited
	}
	return max(limit-used, 0)
}
