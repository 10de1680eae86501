package subscription

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/tier"
)

const (
	defaultMaxRetries   = 5
	defaultRetryBackoff = 10 * time.Millisecond
)

// Processor applies verified billing events to account records.
// It is safe for concurrent use; writes are serialised per account by the
// store's compare-and-swap.
type Processor struct {
	store      UserStore
	catalog    *tier.Catalog
	sink       NotificationSink
	log        *slog.Logger
	now        func() time.Time
	maxRetries int
	backoff    time.Duration
}

type ProcessorOption func(*Processor)

// WithNotificationSink registers where committed tier or status changes go.
func WithNotificationSink(sink NotificationSink) ProcessorOption {
	return func(p *Processor) {
		if sink != nil {
			p.sink = sink
		}
	}
}

func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMaxRetries bounds compare-and-swap attempts per event.
func WithMaxRetries(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

func WithRetryBackoff(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

func NewProcessor(store UserStore, catalog *tier.Catalog, opts ...ProcessorOption) *Processor {
	if store == nil {
		panic("subscription: store cannot be nil")
	}
	if catalog == nil {
		panic("subscription: catalog cannot be nil")
	}
	p := &Processor{
		store:      store,
		catalog:    catalog,
		sink:       SinkFunc(func(context.Context, ChangeNotification) {}),
		log:        logger.Noop(),
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("processor"))
	return p
}

// Apply folds ev into the account record it targets. Duplicates, stale
// events and events for another subscription leave the record untouched and
// are reported through the outcome, not as errors. Errors are transient and
// the provider should redeliver.
func (p *Processor) Apply(ctx context.Context, ev Event) (Outcome, error) {
	log := p.log.With(
		logger.EventID(ev.ID),
		logger.EventType(ev.Type),
		logger.AccountID(ev.AccountID),
	)

	if ev.Type == EventUnknown {
		p.record(ev, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	if ev.ID == "" || ev.AccountID == uuid.Nil {
		log.WarnContext(ctx, "billing event without identity", logger.Error(ErrInvalidEvent))
		p.record(ev, OutcomeInvalid)
		return OutcomeInvalid, nil
	}

	for attempt := range p.maxRetries {
		current, err := p.store.Get(ctx, ev.AccountID)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			current = NewAccount(ev.AccountID, p.now())
		case err != nil:
			return "", errors.Join(ErrStoreFailure, err)
		}

		next, outcome, reason := p.transition(current, ev)
		if next == nil {
			p.report(ctx, log, ev, outcome, reason)
			return outcome, nil
		}

		ok, err := p.store.CompareAndSwap(ctx, current.Version, next)
		if err != nil {
			return "", errors.Join(ErrStoreFailure, err)
		}
		if ok {
			p.report(ctx, log, ev, OutcomeApplied, reason)
			p.notify(ctx, current, next, ev)
			return OutcomeApplied, nil
		}

		casRetries.WithLabelValues("processor").Inc()
		log.DebugContext(ctx, "concurrent update, retrying", logger.Attempt(attempt+1))
		if err := p.wait(ctx, attempt); err != nil {
			return "", err
		}
	}

	log.ErrorContext(ctx, "giving up after repeated write conflicts", logger.Error(ErrConcurrentUpdateConflict))
	return "", ErrConcurrentUpdateConflict
}

// transition computes the next record. A nil record means nothing is written;
// reason carries a detail worth logging either way.
func (p *Processor) transition(current *Account, ev Event) (*Account, Outcome, error) {
	if current.seen(ev.ID) {
		return nil, OutcomeDuplicate, nil
	}
	// Sequences are only comparable within one subscription. An event for a
	// different reference is either a replacement checkout or a mismatch.
	if ev.SubscriptionRef != "" && ev.SubscriptionRef == current.SubscriptionRef &&
		ev.Sequence < current.LastEventSequence {
		return nil, OutcomeStale, nil
	}

	next := current.Clone()
	var reason error

	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.SubscriptionRef == "" {
			return nil, OutcomeInvalid, ErrInvalidEvent
		}
		name, err := p.catalog.TierForPrice(ev.PriceRef)
		if err != nil {
			return nil, OutcomeIgnored, errors.Join(tier.ErrUnknownTier, err)
		}
		if current.HasLiveSubscription() && current.SubscriptionRef != ev.SubscriptionRef {
			supersededSubscriptions.Inc()
			reason = errors.Join(ErrConflictingSubscription, errors.New("previous subscription "+current.SubscriptionRef+" was not cancelled"))
		}
		if next.CustomerRef == "" {
			next.CustomerRef = ev.CustomerRef
		}
		if next.SubscriptionRef != ev.SubscriptionRef {
			next.PeriodEnd = nil
		}
		next.Tier = name
		next.Status = StatusActive
		next.SubscriptionRef = ev.SubscriptionRef
		next.CancelingRef = ""
		next.PastDueSince = nil
		if ev.PeriodEnd != nil {
			next.PeriodEnd = cloneTime(ev.PeriodEnd)
		}

	case EventPaymentSucceeded:
		if current.SubscriptionRef == "" || current.SubscriptionRef != ev.SubscriptionRef {
			return nil, OutcomeMismatch, nil
		}
		next.Status = StatusActive
		next.PastDueSince = nil
		if ev.PeriodEnd != nil {
			next.PeriodEnd = cloneTime(ev.PeriodEnd)
		}

	case EventPaymentFailed:
		if current.SubscriptionRef == "" || current.SubscriptionRef != ev.SubscriptionRef {
			return nil, OutcomeMismatch, nil
		}
		if current.Status != StatusPastDue || current.PastDueSince == nil {
			at := ev.OccurredAt
			next.PastDueSince = &at
		}
		next.Status = StatusPastDue

	case EventSubscriptionUpdated:
		if current.SubscriptionRef == "" || current.SubscriptionRef != ev.SubscriptionRef {
			return nil, OutcomeMismatch, nil
		}
		if ev.PriceRef != "" {
			name, err := p.catalog.TierForPrice(ev.PriceRef)
			if err != nil {
				reason = errors.Join(tier.ErrUnknownTier, err)
			} else {
				next.Tier = name
			}
		}
		if ev.Status != "" {
			switch {
			case ev.Status == StatusPastDue && current.Status != StatusPastDue:
				at := ev.OccurredAt
				next.PastDueSince = &at
			case ev.Status != StatusPastDue:
				next.PastDueSince = nil
			}
			next.Status = ev.Status
		}
		if ev.PeriodEnd != nil {
			next.PeriodEnd = cloneTime(ev.PeriodEnd)
		}

	case EventSubscriptionDeleted:
		if current.SubscriptionRef == "" || current.SubscriptionRef != ev.SubscriptionRef {
			return nil, OutcomeMismatch, nil
		}
		next.Tier = tier.Free
		next.Status = StatusCanceled
		next.SubscriptionRef = ""
		next.CancelingRef = ""
		next.PeriodEnd = nil
		next.PastDueSince = nil

	default:
		return nil, OutcomeIgnored, nil
	}

	if next.SubscriptionRef == current.SubscriptionRef {
		next.LastEventSequence = max(current.LastEventSequence, ev.Sequence)
	} else {
		next.LastEventSequence = ev.Sequence
	}
	next.remember(ev.ID)
	next.UpdatedAt = p.now()
	return next, OutcomeApplied, reason
}

func (p *Processor) report(ctx context.Context, log *slog.Logger, ev Event, outcome Outcome, reason error) {
	p.record(ev, outcome)

	attrs := []any{logger.Outcome(outcome), logger.SubscriptionRef(ev.SubscriptionRef)}
	switch {
	case reason != nil:
		log.WarnContext(ctx, "billing event anomaly", append(attrs, logger.Error(reason))...)
	case outcome == OutcomeApplied || outcome == OutcomeDuplicate || outcome == OutcomeIgnored:
		log.InfoContext(ctx, "billing event processed", attrs...)
	default:
		log.WarnContext(ctx, "billing event skipped", append(attrs, logger.Error(outcome.Err()))...)
	}
}

func (p *Processor) record(ev Event, outcome Outcome) {
	eventsProcessed.WithLabelValues(string(ev.Type), string(outcome)).Inc()
}

func (p *Processor) notify(ctx context.Context, before, after *Account, ev Event) {
	if before.Tier == after.Tier && before.Status == after.Status {
		return
	}
	p.sink.Notify(ctx, ChangeNotification{
		AccountID:  after.ID,
		FromTier:   before.Tier,
		ToTier:     after.Tier,
		FromStatus: before.Status,
		ToStatus:   after.Status,
		PeriodEnd:  after.PeriodEnd,
		EventID:    ev.ID,
		EventType:  ev.Type,
		At:         after.UpdatedAt,
	})
}

func (p *Processor) wait(ctx context.Context, attempt int) error {
	return sleepBackoff(ctx, p.backoff, attempt)
}

// sleepBackoff waits a linearly growing, jittered delay.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	if base <= 0 {
		return ctx.Err()
	}
	d := base*time.Duration(attempt+1) + rand.N(base)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
