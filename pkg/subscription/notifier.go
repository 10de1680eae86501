package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// ChangeNotification describes a committed tier or status transition.
type ChangeNotification struct {
	AccountID  uuid.UUID
	FromTier   tier.Name
	ToTier     tier.Name
	FromStatus Status
	ToStatus   Status
	PeriodEnd  *time.Time
	EventID    string
	EventType  EventType
	At         time.Time
}

// NotificationSink receives change notifications. Implementations passed to
// the processor must not block; wrap slow sinks in a Notifier.
type NotificationSink interface {
	Notify(ctx context.Context, n ChangeNotification)
}

// SinkFunc adapts a function to NotificationSink.
type SinkFunc func(ctx context.Context, n ChangeNotification)

func (f SinkFunc) Notify(ctx context.Context, n ChangeNotification) { f(ctx, n) }

// Notifier fans change notifications out to sinks on background workers.
// Delivery is best effort: when the queue is full the notification is dropped.
type Notifier struct {
	sinks           []NotificationSink
	queue           chan ChangeNotification
	workers         int
	deliveryTimeout time.Duration
	log             *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type NotifierOption func(*Notifier)

func WithSink(sink NotificationSink) NotifierOption {
	return func(n *Notifier) {
		if sink != nil {
			n.sinks = append(n.sinks, sink)
		}
	}
}

func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan ChangeNotification, size)
		}
	}
}

func WithWorkers(count int) NotifierOption {
	return func(n *Notifier) {
		if count > 0 {
			n.workers = count
		}
	}
}

func WithDeliveryTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.deliveryTimeout = d
		}
	}
}

func WithNotifierLogger(log *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// NewNotifier starts the worker pool. Call Close to drain it.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		queue:           make(chan ChangeNotification, 256),
		workers:         2,
		deliveryTimeout: 5 * time.Second,
		log:             logger.Noop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(logger.Component("notifier"))

	for range n.workers {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

// Notify enqueues c without blocking.
func (n *Notifier) Notify(_ context.Context, c ChangeNotification) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		notificationsDropped.Inc()
		n.log.Warn("notification dropped after close", logger.AccountID(c.AccountID))
		return
	}
	select {
	case n.queue <- c:
	default:
		notificationsDropped.Inc()
		n.log.Warn("notification queue full, dropping",
			logger.AccountID(c.AccountID),
			logger.Tier("to_tier", c.ToTier),
		)
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or for ctx to end.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for c := range n.queue {
		for _, sink := range n.sinks {
			n.deliver(sink, c)
		}
	}
}

func (n *Notifier) deliver(sink NotificationSink, c ChangeNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), n.deliveryTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("notification sink panicked",
				logger.AccountID(c.AccountID),
				logger.Error(fmt.Errorf("panic: %v", r)),
			)
		}
	}()
	sink.Notify(ctx, c)
}

// LogSink writes every change to log, including the feature diff between tiers.
func LogSink(log *slog.Logger, catalog *tier.Catalog) NotificationSink {
	return SinkFunc(func(ctx context.Context, c ChangeNotification) {
		attrs := []any{
			logger.AccountID(c.AccountID),
			logger.Tier("from_tier", c.FromTier),
			logger.Tier("to_tier", c.ToTier),
			logger.Status("from_status", c.FromStatus),
			logger.Status("to_status", c.ToStatus),
			logger.EventID(c.EventID),
		}
		if c.PeriodEnd != nil {
			attrs = append(attrs, slog.Time("period_end", *c.PeriodEnd))
		}
		if c.FromTier != c.ToTier {
			if d, err := catalog.Diff(c.FromTier, c.ToTier); err == nil {
				attrs = append(attrs,
					slog.Bool("upgrade", d.Upgrade),
					slog.Any("gained_features", d.GainedFeatures),
					slog.Any("lost_features", d.LostFeatures),
				)
			}
		}
		log.InfoContext(ctx, "subscription changed", attrs...)
	})
}
