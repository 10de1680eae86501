package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

const (
	proPrice     = "price_pro"
	premiumPrice = "price_premium"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newCatalog(t *testing.T) *tier.Catalog {
	t.Helper()
	c, err := tier.NewCatalog(tier.DefaultTiers(proPrice, premiumPrice)...)
	require.NoError(t, err)
	return c
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type recordingSink struct {
	mu   sync.Mutex
	seen []subscription.ChangeNotification
}

func (s *recordingSink) Notify(_ context.Context, n subscription.ChangeNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, n)
}

func (s *recordingSink) all() []subscription.ChangeNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscription.ChangeNotification, len(s.seen))
	copy(out, s.seen)
	return out
}

func checkoutEvent(id string, seq int64, account uuid.UUID, subRef, price string) subscription.Event {
	end := baseTime.AddDate(0, 1, 0)
	return subscription.Event{
		ID:              id,
		Type:            subscription.EventCheckoutCompleted,
		Sequence:        seq,
		OccurredAt:      baseTime.Add(time.Duration(seq) * time.Second),
		AccountID:       account,
		CustomerRef:     "cus_" + account.String()[:8],
		SubscriptionRef: subRef,
		PriceRef:        price,
		PeriodEnd:       &end,
	}
}

func subscriptionEvent(typ subscription.EventType, id string, seq int64, account uuid.UUID, subRef string) subscription.Event {
	return subscription.Event{
		ID:              id,
		Type:            typ,
		Sequence:        seq,
		OccurredAt:      baseTime.Add(time.Duration(seq) * time.Second),
		AccountID:       account,
		SubscriptionRef: subRef,
	}
}

// seedAccount stores a paid account and returns it as persisted.
func seedAccount(t *testing.T, store subscription.UserStore, mutate func(a *subscription.Account)) *subscription.Account {
	t.Helper()
	a := subscription.NewAccount(uuid.New(), baseTime)
	a.CustomerRef = "cus_seed"
	a.Tier = tier.Pro
	a.Status = subscription.StatusActive
	a.SubscriptionRef = "sub_seed"
	end := baseTime.AddDate(0, 1, 0)
	a.PeriodEnd = &end
	a.LastEventSequence = 10
	if mutate != nil {
		mutate(a)
	}
	ok, err := store.CompareAndSwap(context.Background(), 0, a)
	require.NoError(t, err)
	require.True(t, ok)
	return a
}
