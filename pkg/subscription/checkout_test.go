package subscription_test

import (
	"context"
	"errors"
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

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSession), args.Error(1)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	args := m.Called(ctx, subscriptionRef)
	return args.Error(0)
}

func (m *mockGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*subscription.PortalSession, error) {
	args := m.Called(ctx, customerRef, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PortalSession), args.Error(1)
}

func newOrchestrator(t *testing.T, store subscription.UserStore, gw subscription.BillingGateway, opts ...subscription.OrchestratorOption) *subscription.Orchestrator {
	t.Helper()
	opts = append([]subscription.OrchestratorOption{
		subscription.WithOrchestratorClock(fixedClock(baseTime)),
		subscription.WithOrchestratorRetries(5, 0),
	}, opts...)
	return subscription.NewOrchestrator(store, newCatalog(t), gw, opts...)
}

func TestRequestCheckout(t *testing.T) {
	t.Parallel()

	session := &subscription.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}

	t.Run("free account gets a session", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		gw := &mockGateway{}
		id := uuid.New()
		gw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
			return req.AccountID == id && req.PriceRef == proPrice && req.Tier == tier.Pro && req.CustomerRef == ""
		})).Return(session, nil).Once()

		got, err := newOrchestrator(t, store, gw).RequestCheckout(t.Context(), id, tier.Pro, subscription.ConflictStrict, subscription.CheckoutURLs{})
		require.NoError(t, err)
		assert.Equal(t, session.URL, got.URL)
		gw.AssertExpectations(t)

		_, err = store.Get(t.Context(), id)
		assert.ErrorIs(t, err, subscription.ErrAccountNotFound, "checkout must not write the record")
	})

	t.Run("strict mode rejects a second subscription", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		gw := &mockGateway{}

		_, err := newOrchestrator(t, store, gw).RequestCheckout(t.Context(), seeded.ID, tier.Premium, subscription.ConflictStrict, subscription.CheckoutURLs{})
		require.ErrorIs(t, err, subscription.ErrConflictingSubscription)

		var conflict *subscription.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, tier.Pro, conflict.Current)
		assert.Equal(t, tier.Premium, conflict.Requested)
		gw.AssertNotCalled(t, "CancelSubscription", mock.Anything, mock.Anything)
		gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("same tier conflicts in every mode", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		gw := &mockGateway{}

		_, err := newOrchestrator(t, store, gw).RequestCheckout(t.Context(), seeded.ID, tier.Pro, subscription.ConflictAutoReplace, subscription.CheckoutURLs{})
		assert.ErrorIs(t, err, subscription.ErrConflictingSubscription)
		gw.AssertNotCalled(t, "CancelSubscription", mock.Anything, mock.Anything)
	})

	t.Run("past due subscription is still live", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, func(a *subscription.Account) {
			a.Status = subscription.StatusPastDue
		})

		_, err := newOrchestrator(t, store, &mockGateway{}).RequestCheckout(t.Context(), seeded.ID, tier.Premium, subscription.ConflictStrict, subscription.CheckoutURLs{})
		assert.ErrorIs(t, err, subscription.ErrConflictingSubscription)
	})

	t.Run("auto replace cancels first", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		gw := &mockGateway{}
		cancel := gw.On("CancelSubscription", mock.Anything, "sub_seed").Return(nil).Once()
		gw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
			return req.CustomerRef == "cus_seed" && req.PriceRef == premiumPrice
		})).Return(session, nil).Once().NotBefore(cancel)

		got, err := newOrchestrator(t, store, gw).RequestCheckout(t.Context(), seeded.ID, tier.Premium, subscription.ConflictAutoReplace, subscription.CheckoutURLs{})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", got.ID)
		gw.AssertExpectations(t)

		acct, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, tier.Pro, acct.Tier, "tier changes only through webhooks")
		assert.Equal(t, subscription.StatusActive, acct.Status)
		assert.Equal(t, "sub_seed", acct.CancelingRef)
		assert.False(t, acct.HasLiveSubscription())
	})

	t.Run("failed cancel creates nothing", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		gw := &mockGateway{}
		gw.On("CancelSubscription", mock.Anything, "sub_seed").Return(errors.New("stripe down")).Once()

		_, err := newOrchestrator(t, store, gw).RequestCheckout(t.Context(), seeded.ID, tier.Premium, subscription.ConflictAutoReplace, subscription.CheckoutURLs{})
		require.ErrorIs(t, err, subscription.ErrBillingGateway)
		gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)

		acct, err := store.Get(t.Context(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, seeded.Version, acct.Version)
		assert.Empty(t, acct.CancelingRef)
	})

	t.Run("invalid tiers", func(t *testing.T) {
		t.Parallel()
		o := newOrchestrator(t, subscription.NewMemoryStore(), &mockGateway{})

		_, err := o.RequestCheckout(t.Context(), uuid.New(), tier.Free, subscription.ConflictStrict, subscription.CheckoutURLs{})
		assert.ErrorIs(t, err, subscription.ErrInvalidCheckoutTier)

		_, err = o.RequestCheckout(t.Context(), uuid.New(), "enterprise", subscription.ConflictStrict, subscription.CheckoutURLs{})
		assert.ErrorIs(t, err, tier.ErrUnknownTier)
	})

	t.Run("gateway error is wrapped", func(t *testing.T) {
		t.Parallel()
		gw := &mockGateway{}
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		_, err := newOrchestrator(t, subscription.NewMemoryStore(), gw).RequestCheckout(t.Context(), uuid.New(), tier.Pro, subscription.ConflictStrict, subscription.CheckoutURLs{})
		assert.ErrorIs(t, err, subscription.ErrBillingGateway)
	})
}

type blockingGateway struct {
	subscription.BillingGateway
}

func (blockingGateway) CreateCheckoutSession(context.Context, subscription.CheckoutRequest) (*subscription.CheckoutSession, error) {
	time.Sleep(time.Second)
	return &subscription.CheckoutSession{ID: "late"}, nil
}

func TestRequestCheckoutTimeout(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, subscription.NewMemoryStore(), blockingGateway{},
		subscription.WithGatewayTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := o.RequestCheckout(t.Context(), uuid.New(), tier.Pro, subscription.ConflictStrict, subscription.CheckoutURLs{})
	assert.ErrorIs(t, err, subscription.ErrBillingGateway)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// barrierGateway holds every cancel call until n callers arrived, so that
// concurrent replacements all observe the live subscription.
type barrierGateway struct {
	arrived   sync.WaitGroup
	mu        sync.Mutex
	checkouts int
}

func (g *barrierGateway) CancelSubscription(context.Context, string) error {
	g.arrived.Done()
	g.arrived.Wait()
	return nil
}

func (g *barrierGateway) CreateCheckoutSession(context.Context, subscription.CheckoutRequest) (*subscription.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts++
	return &subscription.CheckoutSession{ID: "cs", URL: "https://checkout.example/cs"}, nil
}

func (g *barrierGateway) CreatePortalSession(context.Context, string, string) (*subscription.PortalSession, error) {
	return nil, errors.New("not used")
}

func TestRequestCheckoutConcurrentReplace(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	seeded := seedAccount(t, store, nil)
	gw := &barrierGateway{}
	const callers = 2
	gw.arrived.Add(callers)
	o := newOrchestrator(t, store, gw)

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = o.RequestCheckout(context.Background(), seeded.ID, tier.Premium, subscription.ConflictAutoReplace, subscription.CheckoutURLs{})
		}()
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, subscription.ErrConcurrentUpdateConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, 1, gw.checkouts)
}

func TestPortalSession(t *testing.T) {
	t.Parallel()

	t.Run("requires billing customer", func(t *testing.T) {
		t.Parallel()
		_, err := newOrchestrator(t, subscription.NewMemoryStore(), &mockGateway{}).PortalSession(t.Context(), uuid.New(), "")
		assert.ErrorIs(t, err, subscription.ErrNoBillingCustomer)
	})

	t.Run("opens portal for customer", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seeded := seedAccount(t, store, nil)
		gw := &mockGateway{}
		gw.On("CreatePortalSession", mock.Anything, "cus_seed", "https://app.example/billing").
			Return(&subscription.PortalSession{URL: "https://portal.example"}, nil)

		got, err := newOrchestrator(t, store, gw).PortalSession(t.Context(), seeded.ID, "https://app.example/billing")
		require.NoError(t, err)
		assert.Equal(t, "https://portal.example", got.URL)
	})
}

func TestParseConflictMode(t *testing.T) {
	t.Parallel()

	mode, err := subscription.ParseConflictMode("")
	require.NoError(t, err)
	assert.Equal(t, subscription.ConflictStrict, mode)

	mode, err = subscription.ParseConflictMode("auto_replace")
	require.NoError(t, err)
	assert.Equal(t, subscription.ConflictAutoReplace, mode)

	_, err = subscription.ParseConflictMode("yolo")
	assert.ErrorIs(t, err, subscription.ErrUnknownConflictMode)
}
