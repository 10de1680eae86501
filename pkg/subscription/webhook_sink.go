package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// NotificationType is the "type" field of outbound change notifications.
const NotificationType = "subscription.changed"

// Deliverer sends one serialized notification. webhook.Sender implements it.
type Deliverer interface {
	Send(ctx context.Context, deliveryID string, payload []byte) error
}

// NotificationPayload is the JSON body posted for each ChangeNotification.
type NotificationPayload struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	AccountID  uuid.UUID  `json:"account_id"`
	FromTier   tier.Name  `json:"from_tier"`
	ToTier     tier.Name  `json:"to_tier"`
	FromStatus Status     `json:"from_status"`
	ToStatus   Status     `json:"to_status"`
	PeriodEnd  *time.Time `json:"period_end,omitempty"`
	EventID    string     `json:"event_id,omitempty"`
	EventType  EventType  `json:"event_type,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// WebhookSink posts notifications through d. The delivery ID is the source
// event ID so receivers can deduplicate redeliveries. Failures are logged and
// dropped; run it behind a Notifier.
func WebhookSink(d Deliverer, log *slog.Logger) NotificationSink {
	if log == nil {
		log = logger.Noop()
	}
	return SinkFunc(func(ctx context.Context, c ChangeNotification) {
		id := c.EventID
		if id == "" {
			id = uuid.NewString()
		}
		payload, err := json.Marshal(NotificationPayload{
			ID:         id,
			Type:       NotificationType,
			AccountID:  c.AccountID,
			FromTier:   c.FromTier,
			ToTier:     c.ToTier,
			FromStatus: c.FromStatus,
			ToStatus:   c.ToStatus,
			PeriodEnd:  c.PeriodEnd,
			EventID:    c.EventID,
			EventType:  c.EventType,
			OccurredAt: c.At.UTC(),
		})
		if err != nil {
			log.ErrorContext(ctx, "failed to encode change notification", logger.AccountID(c.AccountID), logger.Error(err))
			return
		}
		if err := d.Send(ctx, id, payload); err != nil {
			log.WarnContext(ctx, "change notification not delivered",
				logger.AccountID(c.AccountID),
				logger.EventID(c.EventID),
				logger.Error(err),
			)
		}
	})
}
