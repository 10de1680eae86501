package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

// MaxWebhookBytes caps provider notification payloads.
const MaxWebhookBytes int64 = 1 << 20

type webhookResponse struct {
	Received bool                 `json:"received"`
	Outcome  subscription.Outcome `json:"outcome"`
}

// webhook verifies and applies a provider notification. Anything the
// processor accepted, including duplicates and stale deliveries, is
// acknowledged with 200 so the provider stops retrying; only transient
// failures return 5xx.
func (m *module) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	respond := func(resp handler.Response) {
		if err := resp.Render(w, r); err != nil {
			m.log.ErrorContext(ctx, "failed to write webhook response", logger.Error(err))
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond(handler.JSONError(handler.ErrRequestEntityTooLarge))
			return
		}
		respond(handler.JSONError(handler.ErrBadRequest.WithKey("unreadable_payload")))
		return
	}

	signature := r.Header.Get(m.opts.SignatureHeader)
	if signature == "" {
		m.log.WarnContext(ctx, "webhook without signature")
		respond(handler.JSONError(handler.ErrBadRequest.WithKey("missing_signature")))
		return
	}

	ev, err := m.opts.Webhooks.ParseWebhook(payload, signature)
	if err != nil {
		m.log.WarnContext(ctx, "rejected webhook", logger.Error(err))
		key := "invalid_payload"
		if errors.Is(err, subscription.ErrWebhookVerification) {
			key = "invalid_signature"
		}
		respond(handler.JSONError(handler.ErrBadRequest.WithKey(key)))
		return
	}

	if ev.AccountID == uuid.Nil && ev.CustomerRef != "" && m.opts.Customers != nil {
		id, err := m.opts.Customers.AccountByCustomerRef(ctx, ev.CustomerRef)
		switch {
		case err == nil:
			ev.AccountID = id
		case errors.Is(err, subscription.ErrAccountNotFound):
			// Left unresolved; the processor reports it as invalid.
		default:
			m.log.ErrorContext(ctx, "customer lookup failed", logger.EventID(ev.ID), logger.Error(err))
			respond(handler.JSONError(handler.ErrInternalServerError))
			return
		}
	}

	outcome, err := m.opts.Processor.Apply(ctx, ev)
	if err != nil {
		m.log.ErrorContext(ctx, "webhook processing failed, provider will retry",
			logger.EventID(ev.ID),
			logger.EventType(ev.Type),
			logger.Error(err),
		)
		respond(handler.JSONError(handler.ErrInternalServerError))
		return
	}

	respond(handler.JSON(webhookResponse{Received: true, Outcome: outcome}))
}
