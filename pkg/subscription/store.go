package subscription

import (
	"context"

	"github.com/google/uuid"
)

// UserStore persists account records with optimistic concurrency.
type UserStore interface {
	// Get returns a copy of the record or ErrAccountNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Account, error)

	// CompareAndSwap writes next only if the stored version equals
	// expectedVersion. An expectedVersion of zero means the record must not
	// exist yet. On success next.Version holds the new version. A lost race
	// is reported as (false, nil).
	CompareAndSwap(ctx context.Context, expectedVersion int64, next *Account) (bool, error)
}

// CustomerIndex resolves provider customer references back to accounts.
// Webhook events that carry no account metadata rely on it.
type CustomerIndex interface {
	AccountByCustomerRef(ctx context.Context, customerRef string) (uuid.UUID, error)
}
