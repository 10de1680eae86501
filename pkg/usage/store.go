package usage

import (
	"context"
	"time"
)

// Store persists usage counters. Implementations must make IncrementWithin
// atomic: two concurrent callers must never both push a counter past limit.
type Store interface {
	// IncrementWithin adds amount to the counter at key unless the result
	// would exceed limit, in which case nothing is consumed. A limit of
	// tier.Unlimited always increments. expiresAt is applied when the
	// counter is created. It returns the counter value after the call.
	IncrementWithin(ctx context.Context, key string, amount, limit int64, expiresAt time.Time) (allowed bool, current int64, err error)

	// Get returns the counter at key, or 0 if it does not exist.
	Get(ctx context.Context, key string) (int64, error)

	// Delete removes the counter at key.
	Delete(ctx context.Context, key string) error
}
