package billing

import (
	"net/http"

	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// RequireTier only lets callers whose effective tier ranks at least t
// through. It must run after RequireAccount.
func RequireTier(g Guard, t tier.Name) func(http.Handler) http.Handler {
	return require(g, subscription.RequireTier(t))
}

// RequireFeature only lets callers entitled to f through. It must run after
// RequireAccount.
func RequireFeature(g Guard, f tier.Feature) func(http.Handler) http.Handler {
	return require(g, subscription.RequireFeature(f))
}

func require(g Guard, req subscription.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := AccountIDFromContext(r.Context())
			if !ok {
				_ = handler.JSONError(handler.ErrUnauthorized.WithKey("account_required")).Render(w, r)
				return
			}
			d := g.Authorize(r.Context(), id, req)
			if !d.Allowed {
				_ = denied(d, handler.ErrForbidden.WithKey("upgrade_required")).Render(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func denied(d subscription.Decision, status handler.HTTPError, extra ...handler.JSONOption) handler.Response {
	details := map[string]any{
		"effective_tier": d.EffectiveTier,
		"reason":         d.Reason,
	}
	if d.RequiredTier != "" {
		details["required_tier"] = d.RequiredTier
	}
	opts := append([]handler.JSONOption{
		handler.WithErrorMessage(d.Message()),
		handler.WithErrorDetails(details),
	}, extra...)
	return handler.JSONError(status, opts...)
}
