package billing

import (
	"fmt"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/tierkit/binder"
	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

type contentResponse struct {
	Tier    tier.Name `json:"tier"`
	Content string    `json:"content"`
}

// ContentRouter mounts sample tier-gated endpoints: one per built-in tier and
// an upload pre-check that enforces the max file size cap.
func ContentRouter(opts RouterOptions) chi.Router {
	m := newModule(opts)
	r := chi.NewRouter()
	r.Use(RequireAccount(m.opts.Accounts))

	for _, t := range []tier.Name{tier.Free, tier.Pro, tier.Premium} {
		if !m.opts.Catalog.Has(t) {
			continue
		}
		r.With(RequireTier(m.opts.Guard, t)).Get("/"+string(t), handler.Wrap(m.content(t)))
	}

	r.With(RequireFeature(m.opts.Guard, tier.FeatureFileUpload)).Post("/upload", handler.Wrap(m.uploadCheck,
		handler.WithBinders[handler.Context, uploadRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, uploadRequest](m.errHandler),
	))

	return r
}

func (m *module) content(t tier.Name) handler.HandlerFunc[handler.Context, struct{}] {
	text := fmt.Sprintf("Content available from the %s plan up.", t)
	return func(ctx handler.Context, _ struct{}) handler.Response {
		return handler.JSON(contentResponse{Tier: t, Content: text})
	}
}

type uploadRequest struct {
	SizeMB int64 `json:"size_mb"`
}

type uploadResponse struct {
	Allowed bool  `json:"allowed"`
	LimitMB int64 `json:"limit_mb"`
}

func (m *module) uploadCheck(ctx handler.Context, req uploadRequest) handler.Response {
	if req.SizeMB <= 0 {
		return handler.JSONError(handler.ErrBadRequest.WithKey("invalid_size"))
	}
	d, limit := m.opts.Guard.CheckCap(ctx, accountID(ctx), tier.CapMaxFileSizeMB, req.SizeMB)
	if !d.Allowed {
		return denied(d, handler.ErrRequestEntityTooLarge.WithKey("file_too_large"), handler.WithJSONMeta(map[string]any{"limit_mb": limit}))
	}
	return handler.JSON(uploadResponse{Allowed: true, LimitMB: limit})
}
