package webhook

import (
	"log/slog"
	"net/http"
	"time"
)

type Option func(*Sender)

// WithHTTPClient replaces the default client, which has a 10 second timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRetries sets how many times a temporary failure is retried.
func WithRetries(n int) Option {
	return func(s *Sender) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithBackoff sets the first retry delay and its ceiling. A zero initial
// delay retries immediately.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(s *Sender) {
		s.initialDelay = initial
		s.maxDelay = ceiling
	}
}

// WithCircuitBreaker opens the circuit after threshold consecutive failed
// deliveries. A threshold of zero disables it.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(s *Sender) {
		s.breakerThreshold = threshold
		s.breakerCooldown = cooldown
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Sender) {
		if log != nil {
			s.log = log
		}
	}
}
