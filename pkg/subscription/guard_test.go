package subscription_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/entitlement"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

func TestGuardAuthorize(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	pro := seedAccount(t, store, nil)
	pastDue := seedAccount(t, store, func(a *subscription.Account) {
		a.Status = subscription.StatusPastDue
		since := baseTime.Add(-24 * time.Hour)
		a.PastDueSince = &since
	})
	expired := seedAccount(t, store, func(a *subscription.Account) {
		a.Status = subscription.StatusPastDue
		since := baseTime.Add(-5 * 24 * time.Hour)
		a.PastDueSince = &since
	})
	lapsed := seedAccount(t, store, func(a *subscription.Account) {
		end := baseTime.Add(-time.Hour)
		a.PeriodEnd = &end
	})
	corrupt := seedAccount(t, store, func(a *subscription.Account) {
		a.Tier = "platinum"
	})

	g := subscription.NewGuard(store, newCatalog(t), subscription.WithGuardClock(fixedClock(baseTime)))

	tests := []struct {
		name      string
		account   uuid.UUID
		req       subscription.Requirement
		allowed   bool
		effective tier.Name
		reason    entitlement.Reason
	}{
		{"unknown account is free", uuid.New(), subscription.RequireFeature(tier.FeatureBasicChat), true, tier.Free, entitlement.ReasonFree},
		{"free lacks pro feature", uuid.New(), subscription.RequireFeature(tier.FeatureAdvancedChat), false, tier.Free, subscription.ReasonInsufficientTier},
		{"pro has pro feature", pro.ID, subscription.RequireFeature(tier.FeatureFileUpload), true, tier.Pro, entitlement.ReasonActive},
		{"pro inherits free feature", pro.ID, subscription.RequireFeature(tier.FeatureBasicChat), true, tier.Pro, entitlement.ReasonActive},
		{"pro lacks premium tier", pro.ID, subscription.RequireTier(tier.Premium), false, tier.Pro, subscription.ReasonInsufficientTier},
		{"grace keeps tier", pastDue.ID, subscription.RequireTier(tier.Pro), true, tier.Pro, entitlement.ReasonGrace},
		{"expired grace degrades", expired.ID, subscription.RequireTier(tier.Pro), false, tier.Free, entitlement.ReasonGraceExpired},
		{"elapsed period degrades", lapsed.ID, subscription.RequireTier(tier.Pro), false, tier.Free, entitlement.ReasonPeriodElapsed},
		{"unknown stored tier degrades", corrupt.ID, subscription.RequireTier(tier.Pro), false, tier.Free, entitlement.ReasonUnknownTier},
		{"unknown feature denied", pro.ID, subscription.RequireFeature("teleport"), false, tier.Free, subscription.ReasonUnknownRequirement},
		{"unknown tier denied", pro.ID, subscription.RequireTier("enterprise"), false, tier.Free, subscription.ReasonUnknownRequirement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := g.Authorize(t.Context(), tt.account, tt.req)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.effective, d.EffectiveTier)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestGuardFailsClosed(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	g := subscription.NewGuard(store, newCatalog(t))

	d := g.Authorize(t.Context(), uuid.New(), subscription.RequireFeature(tier.FeatureBasicChat))
	assert.False(t, d.Allowed)
	assert.Equal(t, tier.Free, d.EffectiveTier)
	assert.Equal(t, subscription.ReasonAccountUnavailable, d.Reason)

	_, err := g.EffectiveTier(t.Context(), uuid.New())
	assert.ErrorIs(t, err, subscription.ErrStoreFailure)
}

func TestDecisionMessage(t *testing.T) {
	t.Parallel()

	g := subscription.NewGuard(subscription.NewMemoryStore(), newCatalog(t))
	d := g.Authorize(t.Context(), uuid.New(), subscription.RequireFeature(tier.FeatureCustomModels))
	require.False(t, d.Allowed)
	assert.Equal(t, tier.Premium, d.RequiredTier)
	assert.Equal(t, "This feature requires a premium subscription or higher. Your current plan: free", d.Message())

	allowed := g.Authorize(t.Context(), uuid.New(), subscription.RequireTier(tier.Free))
	assert.True(t, allowed.Allowed)
	assert.Empty(t, allowed.Message())
}

func TestGuardCheckCap(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	pro := seedAccount(t, store, nil)
	g := subscription.NewGuard(store, newCatalog(t), subscription.WithGuardClock(fixedClock(baseTime)))

	d, limit := g.CheckCap(t.Context(), pro.ID, tier.CapMaxFileSizeMB, 80)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(100), limit)

	d, _ = g.CheckCap(t.Context(), pro.ID, tier.CapMaxFileSizeMB, 500)
	assert.False(t, d.Allowed)
	assert.Equal(t, tier.Premium, d.RequiredTier)

	d, limit = g.CheckCap(t.Context(), uuid.New(), tier.CapMaxFileSizeMB, 11)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(10), limit)
	assert.Equal(t, tier.Pro, d.RequiredTier)
}
