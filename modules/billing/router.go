package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/binder"
	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/entitlement"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
	"github.com/dmitrymomot/tierkit/pkg/usage"
)

// Guard answers entitlement questions for an account.
type Guard interface {
	Capabilities(ctx context.Context, id uuid.UUID) (entitlement.Capabilities, *subscription.Account, error)
	Authorize(ctx context.Context, id uuid.UUID, req subscription.Requirement) subscription.Decision
	CheckCap(ctx context.Context, id uuid.UUID, capName tier.CapName, value int64) (subscription.Decision, int64)
}

// EventApplier folds verified billing events into account records.
type EventApplier interface {
	Apply(ctx context.Context, ev subscription.Event) (subscription.Outcome, error)
}

// Checkout starts purchases and opens the provider's self-service portal.
type Checkout interface {
	RequestCheckout(ctx context.Context, accountID uuid.UUID, requested tier.Name, mode subscription.ConflictMode, urls subscription.CheckoutURLs) (*subscription.CheckoutSession, error)
	PortalSession(ctx context.Context, accountID uuid.UUID, returnURL string) (*subscription.PortalSession, error)
}

// Meter consumes and reports windowed quotas.
type Meter interface {
	Consume(ctx context.Context, accountID uuid.UUID, quota tier.QuotaName, amount int64) (usage.Result, error)
	Status(ctx context.Context, accountID uuid.UUID, quota tier.QuotaName) (usage.Result, error)
}

// RouterOptions configures the billing module. Catalog and Guard are
// required; the other services are mounted only when provided.
type RouterOptions struct {
	Catalog *tier.Catalog
	Guard   Guard

	// Inbound provider notifications.
	Webhooks        subscription.WebhookParser
	Processor       EventApplier
	Customers       subscription.CustomerIndex
	SignatureHeader string // defaults to Stripe-Signature

	// Purchases
	Checkout        Checkout
	ConflictMode    subscription.ConflictMode
	CheckoutURLs    subscription.CheckoutURLs
	PortalReturnURL string

	Usage Meter

	// Accounts resolves the caller. Defaults to the X-Account-ID header.
	Accounts AccountResolver
	Logger   *slog.Logger
}

type module struct {
	opts       RouterOptions
	log        *slog.Logger
	errHandler handler.ErrorHandler[handler.Context]
}

func newModule(opts RouterOptions) *module {
	if opts.Catalog == nil {
		panic("billing: catalog cannot be nil")
	}
	if opts.Guard == nil {
		panic("billing: guard cannot be nil")
	}
	if opts.Accounts == nil {
		opts.Accounts = HeaderAccountResolver(AccountHeader)
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Stripe-Signature"
	}
	if opts.ConflictMode == "" {
		opts.ConflictMode = subscription.ConflictStrict
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("billing"))

	return &module{
		opts:       opts,
		log:        log,
		errHandler: handler.NewErrorHandler[handler.Context](log, ClassifyError),
	}
}

// Router creates the billing API router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(billing.RouterOptions{
//	    Catalog:   catalog,
//	    Guard:     guard,
//	    Webhooks:  stripeGateway,
//	    Processor: processor,
//	    Checkout:  orchestrator,
//	    Usage:     limiter,
//	}))
func Router(opts RouterOptions) chi.Router {
	m := newModule(opts)
	r := chi.NewRouter()

	if m.opts.Webhooks != nil && m.opts.Processor != nil {
		r.Post("/webhook", m.webhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireAccount(m.opts.Accounts))

		r.Get("/me", handler.Wrap(m.me,
			handler.WithErrorHandler[handler.Context, struct{}](m.errHandler),
		))

		if m.opts.Checkout != nil {
			r.Post("/checkout", handler.Wrap(m.checkout,
				handler.WithBinders[handler.Context, checkoutRequest](binder.JSON()),
				handler.WithErrorHandler[handler.Context, checkoutRequest](m.errHandler),
			))
			r.Post("/portal", handler.Wrap(m.portal,
				handler.WithErrorHandler[handler.Context, struct{}](m.errHandler),
			))
		}

		if m.opts.Usage != nil {
			r.Get("/usage/{quota}", handler.Wrap(m.usageStatus,
				handler.WithBinders[handler.Context, usageRequest](binder.Path(chi.URLParam)),
				handler.WithErrorHandler[handler.Context, usageRequest](m.errHandler),
			))
			r.Post("/usage/{quota}", handler.Wrap(m.consume,
				handler.WithBinders[handler.Context, usageRequest](binder.Path(chi.URLParam), binder.JSON()),
				handler.WithErrorHandler[handler.Context, usageRequest](m.errHandler),
			))
		}
	})

	return r
}

// fail logs err and renders it as the HTTP error it classifies to.
func (m *module) fail(ctx handler.Context, err error, opts ...handler.JSONOption) handler.Response {
	status := handler.Classify(err, ClassifyError)
	level := slog.LevelError
	if status.Code < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	m.log.LogAttrs(ctx, level, "billing request failed",
		logger.Error(err),
		slog.Int("status_code", status.Code),
		slog.String("path", ctx.Request().URL.Path),
	)
	return handler.JSONError(status, opts...)
}
