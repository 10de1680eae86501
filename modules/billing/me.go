package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/entitlement"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

type quotaView struct {
	Limit  int64       `json:"limit"`
	Window tier.Window `json:"window"`
}

type meResponse struct {
	AccountID     uuid.UUID                    `json:"account_id"`
	Tier          tier.Name                    `json:"tier"`
	EffectiveTier tier.Name                    `json:"effective_tier"`
	Status        entitlement.Status           `json:"status"`
	Reason        entitlement.Reason           `json:"reason"`
	PeriodEnd     *time.Time                   `json:"period_end,omitempty"`
	GraceEndsAt   *time.Time                   `json:"grace_ends_at,omitempty"`
	HasCustomer   bool                         `json:"has_billing_customer"`
	Features      []tier.Feature               `json:"features"`
	Quotas        map[tier.QuotaName]quotaView `json:"quotas"`
	Caps          map[tier.CapName]int64       `json:"caps"`
	Stale         bool                         `json:"stale,omitempty"`
}

// me reports the caller's stored subscription next to what it currently
// entitles them to.
func (m *module) me(ctx handler.Context, _ struct{}) handler.Response {
	id := accountID(ctx)
	caps, acct, err := m.opts.Guard.Capabilities(ctx, id)
	if err != nil {
		return m.fail(ctx, err)
	}

	resp := meResponse{
		AccountID:     id,
		Tier:          tier.Free,
		EffectiveTier: caps.EffectiveTier,
		Status:        entitlement.StatusActive,
		Reason:        caps.Reason,
		GraceEndsAt:   caps.GraceEndsAt,
		Features:      caps.Granted,
		Quotas:        map[tier.QuotaName]quotaView{},
		Caps:          map[tier.CapName]int64{},
		Stale:         caps.Stale,
	}
	if acct != nil {
		resp.Tier = acct.Tier
		resp.Status = acct.Status
		resp.PeriodEnd = acct.PeriodEnd
		resp.HasCustomer = acct.CustomerRef != ""
	}
	if resp.Features == nil {
		resp.Features = []tier.Feature{}
	}

	if t, err := m.opts.Catalog.Lookup(caps.EffectiveTier); err == nil {
		for name, q := range t.Quotas {
			resp.Quotas[name] = quotaView{Limit: q.Limit, Window: q.Window}
		}
		for name, v := range t.Caps {
			resp.Caps[name] = v
		}
	}

	return handler.JSON(resp)
}
