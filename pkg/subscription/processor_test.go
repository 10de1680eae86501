package subscription_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, id uuid.UUID) (*subscription.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Account), args.Error(1)
}

func (m *mockStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next *subscription.Account) (bool, error) {
	args := m.Called(ctx, expectedVersion, next)
	return args.Bool(0), args.Error(1)
}

func newProcessor(t *testing.T, store subscription.UserStore, opts ...subscription.ProcessorOption) *subscription.Processor {
	t.Helper()
	opts = append([]subscription.ProcessorOption{
		subscription.WithProcessorClock(fixedClock(baseTime)),
		subscription.WithRetryBackoff(0),
	}, opts...)
	return subscription.NewProcessor(store, newCatalog(t), opts...)
}

func TestProcessorCheckoutCompleted(t *testing.T) {
	t.Parallel()

	t.Run("creates paid record for new account", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		sink := &recordingSink{}
		p := newProcessor(t, store, subscription.WithNotificationSink(sink))
		id := uuid.New()

		outcome, err := p.Apply(t.Context(), checkoutEvent("evt_1", 100, id, "sub_1", proPrice))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeApplied, outcome)

		got, err := store.Get(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, tier.Pro, got.Tier)
		assert.Equal(t, subscription.StatusActive, got.Status)
		assert.Equal(t, "sub_1", got.SubscriptionRef)
		assert.NotEmpty(t, got.CustomerRef)
		assert.Equal(t, int64(100), got.LastEventSequence)
		assert.Equal(t, int64(1), got.Version)
		require.NotNil(t, got.PeriodEnd)

		notes := sink.all()
		require.Len(t, notes, 1)
		assert.Equal(t, tier.Free, notes[0].FromTier)
		assert.Equal(t, tier.Pro, notes[0].ToTier)
		assert.Equal(t, "evt_1", notes[0].EventID)
	})

	t.Run("keeps existing customer reference", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, func(a *subscription.Account) {
			a.Status = subscription.StatusCanceled
			a.Tier = tier.Free
			a.SubscriptionRef = ""
		})
		p := newProcessor(t, store)

		ev := checkoutEvent("evt_2", 200, seeded.ID, "sub_2", premiumPrice)
		ev.CustomerRef = "cus_other"
		_, err := p.Apply(t.Context(), ev)
		require.NoError(t, err)

		got, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_seed", got.CustomerRef)
		assert.Equal(t, tier.Premium, got.Tier)
	})

	t.Run("replacement clears cancelling marker", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, func(a *subscription.Account) {
			a.CancelingRef = a.SubscriptionRef
		})
		p := newProcessor(t, store)

		_, err := p.Apply(t.Context(), checkoutEvent("evt_3", 50, seeded.ID, "sub_new", premiumPrice))
		require.NoError(t, err)

		got, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, "sub_new", got.SubscriptionRef)
		assert.Empty(t, got.CancelingRef)

		// The old subscription's deletion arrives later and is ignored.
		outcome, err := p.Apply(t.Context(), subscriptionEvent(subscription.EventSubscriptionDeleted, "evt_4", 60, seeded.ID, "sub_seed"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeMismatch, outcome)

		got, err = store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, tier.Premium, got.Tier)
	})

	t.Run("unknown price leaves record untouched", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		p := newProcessor(t, store)
		id := uuid.New()

		outcome, err := p.Apply(t.Context(), checkoutEvent("evt_5", 1, id, "sub_5", "price_unknown"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeIgnored, outcome)

		_, err = store.Get(t.Context(), id)
		assert.ErrorIs(t, err, subscription.ErrAccountNotFound)
	})
}

func TestProcessorOrdering(t *testing.T) {
	t.Parallel()

	t.Run("duplicate is idempotent", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		p := newProcessor(t, store)
		id := uuid.New()
		ev := checkoutEvent("evt_dup", 10, id, "sub_1", proPrice)

		_, err := p.Apply(t.Context(), ev)
		require.NoError(t, err)
		first, err := store.Get(t.Context(), id)
		require.NoError(t, err)

		outcome, err := p.Apply(t.Context(), ev)
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeDuplicate, outcome)

		second, err := store.Get(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("older event is stale", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		p := newProcessor(t, store)

		outcome, err := p.Apply(t.Context(), subscriptionEvent(subscription.EventSubscriptionDeleted, "evt_old", 5, seeded.ID, "sub_seed"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeStale, outcome)

		got, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, tier.Pro, got.Tier)
		assert.Equal(t, seeded.Version, got.Version)
	})

	t.Run("replacement checkout is ordered by its own subscription", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		p := newProcessor(t, store)

		outcome, err := p.Apply(t.Context(), subscriptionEvent(subscription.EventPaymentSucceeded, "evt_renew", 30, seeded.ID, "sub_seed"))
		require.NoError(t, err)
		require.Equal(t, subscription.OutcomeApplied, outcome)

		// Sequence 20 is older than sub_seed's last event but belongs to sub_new.
		outcome, err = p.Apply(t.Context(), checkoutEvent("evt_upgrade", 20, seeded.ID, "sub_new", premiumPrice))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeApplied, outcome)

		got, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, tier.Premium, got.Tier)
		assert.Equal(t, "sub_new", got.SubscriptionRef)
		assert.Equal(t, int64(20), got.LastEventSequence)

		// Late events of the replaced subscription do not touch the record.
		outcome, err = p.Apply(t.Context(), subscriptionEvent(subscription.EventSubscriptionDeleted, "evt_old_delete", 40, seeded.ID, "sub_seed"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeMismatch, outcome)

		// Ordering within sub_new still applies.
		outcome, err = p.Apply(t.Context(), subscriptionEvent(subscription.EventSubscriptionDeleted, "evt_new_old", 15, seeded.ID, "sub_new"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeStale, outcome)

		got, err = store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, tier.Premium, got.Tier)
	})

	t.Run("same sequence with new id applies", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		p := newProcessor(t, store)

		outcome, err := p.Apply(t.Context(), subscriptionEvent(subscription.EventPaymentFailed, "evt_same", 10, seeded.ID, "sub_seed"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeApplied, outcome)
	})

	t.Run("other subscription is a mismatch", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		p := newProcessor(t, store)

		for _, typ := range []subscription.EventType{
			subscription.EventPaymentSucceeded,
			subscription.EventPaymentFailed,
			subscription.EventSubscriptionUpdated,
			subscription.EventSubscriptionDeleted,
		} {
			outcome, err := p.Apply(t.Context(), subscriptionEvent(typ, "evt_"+string(typ), 20, seeded.ID, "sub_other"))
			require.NoError(t, err)
			assert.Equal(t, subscription.OutcomeMismatch, outcome, typ)
		}

		got, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, seeded.Version, got.Version)
	})

	t.Run("events without identity are invalid", func(t *testing.T) {
		t.Parallel()
		p := newProcessor(t, subscription.NewMemoryStore())

		outcome, err := p.Apply(t.Context(), subscriptionEvent(subscription.EventPaymentSucceeded, "evt_x", 1, uuid.Nil, "sub"))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeInvalid, outcome)

		outcome, err = p.Apply(t.Context(), subscription.Event{Type: subscription.EventUnknown, ID: "evt_y"})
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeIgnored, outcome)
	})

	t.Run("recent event ids stay bounded", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		p := newProcessor(t, store)

		for i := range 40 {
			_, err := p.Apply(t.Context(), subscriptionEvent(subscription.EventPaymentSucceeded, fmt.Sprintf("evt_%d", i), int64(20+i), seeded.ID, "sub_seed"))
			require.NoError(t, err)
		}
		got, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Len(t, got.RecentEventIDs, 32)
		assert.Equal(t, "evt_39", got.RecentEventIDs[31])
	})
}

func TestProcessorLifecycle(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	sink := &recordingSink{}
	p := newProcessor(t, store, subscription.WithNotificationSink(sink))
	id := uuid.New()
	ctx := t.Context()

	apply := func(ev subscription.Event) {
		t.Helper()
		outcome, err := p.Apply(ctx, ev)
		require.NoError(t, err)
		require.Equal(t, subscription.OutcomeApplied, outcome)
	}

	apply(checkoutEvent("evt_1", 1, id, "sub_1", proPrice))

	apply(subscriptionEvent(subscription.EventPaymentFailed, "evt_2", 2, id, "sub_1"))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, got.Status)
	require.NotNil(t, got.PastDueSince)
	failedAt := *got.PastDueSince

	// A second failure keeps the original grace anchor.
	apply(subscriptionEvent(subscription.EventPaymentFailed, "evt_3", 3, id, "sub_1"))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, failedAt.Equal(*got.PastDueSince))

	renewal := subscriptionEvent(subscription.EventPaymentSucceeded, "evt_4", 4, id, "sub_1")
	end := baseTime.AddDate(0, 2, 0)
	renewal.PeriodEnd = &end
	apply(renewal)
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Nil(t, got.PastDueSince)
	assert.True(t, end.Equal(*got.PeriodEnd))

	upgrade := subscriptionEvent(subscription.EventSubscriptionUpdated, "evt_5", 5, id, "sub_1")
	upgrade.PriceRef = premiumPrice
	upgrade.Status = subscription.StatusActive
	apply(upgrade)
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tier.Premium, got.Tier)

	apply(subscriptionEvent(subscription.EventSubscriptionDeleted, "evt_6", 6, id, "sub_1"))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tier.Free, got.Tier)
	assert.Equal(t, subscription.StatusCanceled, got.Status)
	assert.Empty(t, got.SubscriptionRef)
	assert.Nil(t, got.PeriodEnd)

	// checkout, past_due, active again, premium, canceled. The repeated
	// failure and the renewal's period change do not notify.
	var transitions []string
	for _, n := range sink.all() {
		transitions = append(transitions, fmt.Sprintf("%s/%s", n.ToTier, n.ToStatus))
	}
	assert.Equal(t, []string{"pro/active", "pro/past_due", "pro/active", "premium/active", "free/canceled"}, transitions)
}

func TestProcessorConcurrentEvents(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	seeded := seedAccount(t, store, nil)
	p := subscription.NewProcessor(store, newCatalog(t),
		subscription.WithProcessorClock(fixedClock(baseTime)),
		subscription.WithMaxRetries(200),
		subscription.WithRetryBackoff(time.Microsecond),
	)

	const workers = 20
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := subscriptionEvent(subscription.EventPaymentSucceeded, fmt.Sprintf("evt_c%d", i), 50, seeded.ID, "sub_seed")
			_, err := p.Apply(context.Background(), ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(t.Context(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.Version+workers, got.Version)
	assert.Len(t, got.RecentEventIDs, workers)
	assert.Equal(t, subscription.StatusActive, got.Status)
}

func TestProcessorStoreErrors(t *testing.T) {
	t.Parallel()

	t.Run("read failure", func(t *testing.T) {
		t.Parallel()
		store := &mockStore{}
		store.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
		p := newProcessor(t, store)

		_, err := p.Apply(t.Context(), checkoutEvent("evt_1", 1, uuid.New(), "sub_1", proPrice))
		assert.ErrorIs(t, err, subscription.ErrStoreFailure)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		t.Parallel()
		store := &mockStore{}
		store.On("Get", mock.Anything, mock.Anything).Return(nil, subscription.ErrAccountNotFound)
		store.On("CompareAndSwap", mock.Anything, int64(0), mock.Anything).Return(false, nil)
		p := newProcessor(t, store, subscription.WithMaxRetries(3))

		_, err := p.Apply(t.Context(), checkoutEvent("evt_1", 1, uuid.New(), "sub_1", proPrice))
		assert.ErrorIs(t, err, subscription.ErrConcurrentUpdateConflict)
		store.AssertNumberOfCalls(t, "CompareAndSwap", 3)
	})

	t.Run("write failure", func(t *testing.T) {
		t.Parallel()
		store := &mockStore{}
		store.On("Get", mock.Anything, mock.Anything).Return(nil, subscription.ErrAccountNotFound)
		store.On("CompareAndSwap", mock.Anything, int64(0), mock.Anything).Return(false, errors.New("disk full"))
		p := newProcessor(t, store)

		_, err := p.Apply(t.Context(), checkoutEvent("evt_1", 1, uuid.New(), "sub_1", proPrice))
		assert.ErrorIs(t, err, subscription.ErrStoreFailure)
	})
}
