package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// MemoryStore keeps counters in process memory. Increments are lock-free
// compare-and-swap loops on a per-key atomic; the map lock only guards key
// creation and cleanup.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[string]*counter

	cleanupInterval time.Duration
	now             func() time.Time
	stop            chan struct{}
	stopOnce        sync.Once
}

type counter struct {
	value     atomic.Int64
	expiresAt time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often expired counters are evicted.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithStoreClock overrides the clock used for expiry. Intended for tests.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore starts a store and its cleanup goroutine. Call Close to stop it.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		counters:        make(map[string]*counter),
		cleanupInterval: time.Minute,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) IncrementWithin(_ context.Context, key string, amount, limit int64, expiresAt time.Time) (bool, int64, error) {
	c := s.counter(key, expiresAt)
	for {
		cur := c.value.Load()
		if limit != tier.Unlimited && cur+amount > limit {
			return false, cur, nil
		}
		if c.value.CompareAndSwap(cur, cur+amount) {
			return true, cur + amount, nil
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	c, ok := s.counters[key]
	s.mu.RUnlock()
	if !ok || !s.now().Before(c.expiresAt) {
		return 0, nil
	}
	return c.value.Load(), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) counter(key string, expiresAt time.Time) *counter {
	s.mu.RLock()
	c, ok := s.counters[key]
	s.mu.RUnlock()
	if ok && s.now().Before(c.expiresAt) {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[key]; ok && s.now().Before(c.expiresAt) {
		return c
	}
	c = &counter{expiresAt: expiresAt}
	s.counters[key] = c
	return c
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, key)
		}
	}
}
