package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

// ResyncRequester is told about records whose billing period has ended while
// they are still active, which means a renewal or cancellation webhook was
// missed.
type ResyncRequester interface {
	RequestResync(ctx context.Context, accountID uuid.UUID, subscriptionRef string)
}

type eventApplier interface {
	Apply(ctx context.Context, ev Event) (Outcome, error)
}

// maxResyncTracked is the throttle table size that triggers a sweep.
const maxResyncTracked = 4096

type resyncJob struct {
	accountID       uuid.UUID
	subscriptionRef string
}

// Resyncer fetches stale subscriptions from the provider on a background
// worker and feeds the result through the Processor. Requests for the same
// account are throttled, and requests that find the queue full are dropped.
type Resyncer struct {
	fetcher  SubscriptionFetcher
	applier  eventApplier
	log      *slog.Logger
	now      func() time.Time
	cooldown time.Duration
	timeout  time.Duration
	queue    chan resyncJob

	mu     sync.Mutex
	last   map[uuid.UUID]time.Time
	closed bool
	wg     sync.WaitGroup
}

type ResyncOption func(*Resyncer)

// WithResyncCooldown sets the minimum time between fetches for one account.
func WithResyncCooldown(d time.Duration) ResyncOption {
	return func(r *Resyncer) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

func WithResyncTimeout(d time.Duration) ResyncOption {
	return func(r *Resyncer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithResyncQueueSize(size int) ResyncOption {
	return func(r *Resyncer) {
		if size > 0 {
			r.queue = make(chan resyncJob, size)
		}
	}
}

func WithResyncClock(now func() time.Time) ResyncOption {
	return func(r *Resyncer) {
		if now != nil {
			r.now = now
		}
	}
}

func WithResyncLogger(log *slog.Logger) ResyncOption {
	return func(r *Resyncer) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResyncer starts the worker. Close stops it.
func NewResyncer(fetcher SubscriptionFetcher, processor *Processor, opts ...ResyncOption) *Resyncer {
	if fetcher == nil {
		panic("subscription: fetcher cannot be nil")
	}
	if processor == nil {
		panic("subscription: processor cannot be nil")
	}
	r := &Resyncer{
		fetcher:  fetcher,
		applier:  processor,
		log:      logger.Noop(),
		now:      time.Now,
		cooldown: 15 * time.Minute,
		timeout:  10 * time.Second,
		queue:    make(chan resyncJob, 64),
		last:     make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("resync"))

	r.wg.Add(1)
	go r.work()
	return r
}

// RequestResync queues a fetch without blocking.
func (r *Resyncer) RequestResync(ctx context.Context, accountID uuid.UUID, subscriptionRef string) {
	if subscriptionRef == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	now := r.now()
	if len(r.last) >= maxResyncTracked {
		for id, at := range r.last {
			if now.Sub(at) >= r.cooldown {
				delete(r.last, id)
			}
		}
	}
	if at, ok := r.last[accountID]; ok && now.Sub(at) < r.cooldown {
		resyncRequests.WithLabelValues("throttled").Inc()
		return
	}

	select {
	case r.queue <- resyncJob{accountID: accountID, subscriptionRef: subscriptionRef}:
		r.last[accountID] = now
		resyncRequests.WithLabelValues("queued").Inc()
	default:
		resyncRequests.WithLabelValues("dropped").Inc()
		r.log.WarnContext(ctx, "resync queue full, request dropped", logger.AccountID(accountID))
	}
}

// Close stops accepting requests and waits for queued ones to finish or for
// ctx to expire.
func (r *Resyncer) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resyncer) work() {
	defer r.wg.Done()
	for job := range r.queue {
		r.run(job)
	}
}

func (r *Resyncer) run(job resyncJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	log := r.log.With(logger.AccountID(job.accountID), logger.SubscriptionRef(job.subscriptionRef))

	defer func() {
		if p := recover(); p != nil {
			resyncRequests.WithLabelValues("failed").Inc()
			log.Error("resync panicked", logger.Error(fmt.Errorf("panic: %v", p)))
		}
	}()

	ev, err := r.fetcher.FetchSubscription(ctx, job.subscriptionRef)
	if err != nil {
		resyncRequests.WithLabelValues("failed").Inc()
		log.WarnContext(ctx, "failed to fetch subscription", logger.Error(errors.Join(ErrBillingGateway, err)))
		return
	}
	ev.AccountID = job.accountID

	outcome, err := r.applier.Apply(ctx, ev)
	if err != nil {
		resyncRequests.WithLabelValues("failed").Inc()
		log.WarnContext(ctx, "failed to apply resynced subscription", logger.Error(err))
		return
	}
	resyncRequests.WithLabelValues("completed").Inc()
	log.InfoContext(ctx, "subscription resynced", logger.Outcome(outcome))
}
