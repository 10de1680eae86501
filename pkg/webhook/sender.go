package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

const userAgent = "tierkit-webhook/1"

// Sender posts signed payloads to one endpoint. Safe for concurrent use.
type Sender struct {
	url    string
	secret string
	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	retries      int
	initialDelay time.Duration
	maxDelay     time.Duration

	breakerThreshold int
	breakerCooldown  time.Duration
	breaker          *breaker
}

func NewSender(endpoint, secret string, opts ...Option) (*Sender, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint must be an absolute http(s) URL", ErrInvalidConfiguration)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}

	s := &Sender{
		url:              endpoint,
		secret:           secret,
		client:           &http.Client{Timeout: 10 * time.Second},
		log:              logger.Noop(),
		now:              time.Now,
		retries:          3,
		initialDelay:     time.Second,
		maxDelay:         30 * time.Second,
		breakerThreshold: 5,
		breakerCooldown:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breakerThreshold > 0 {
		s.breaker = &breaker{threshold: s.breakerThreshold, cooldown: s.breakerCooldown, now: s.now}
	}
	return s, nil
}

// Send delivers payload, retrying temporary failures. It returns an error
// wrapping ErrPermanentFailure, ErrTemporaryFailure or ErrCircuitOpen.
func (s *Sender) Send(ctx context.Context, deliveryID string, payload []byte) error {
	if len(payload) == 0 {
		return ErrInvalidPayload
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, s.delay(attempt)); err != nil {
				return errors.Join(lastErr, err)
			}
		}
		if !s.breaker.allow() {
			deliveries.WithLabelValues("circuit_open").Inc()
			return errors.Join(ErrCircuitOpen, lastErr)
		}

		lastErr = s.post(ctx, deliveryID, payload)
		switch {
		case lastErr == nil:
			s.breaker.success()
			deliveries.WithLabelValues("delivered").Inc()
			return nil
		case errors.Is(lastErr, ErrPermanentFailure):
			deliveries.WithLabelValues("rejected").Inc()
			return lastErr
		}

		s.breaker.failure()
		deliveries.WithLabelValues("failed").Inc()
		s.log.WarnContext(ctx, "webhook delivery attempt failed",
			slog.String("delivery_id", deliveryID),
			logger.Attempt(attempt+1),
			logger.Error(lastErr),
		)
	}
	return lastErr
}

func (s *Sender) post(ctx context.Context, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Join(ErrPermanentFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(DeliveryHeader, deliveryID)
	req.Header.Set(SignatureHeader, Sign(s.secret, s.now(), payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Join(ErrTemporaryFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: status %d", ErrTemporaryFailure, code)
	default:
		return fmt.Errorf("%w: status %d", ErrPermanentFailure, code)
	}
}

// delay is exponential with equal jitter, capped at maxDelay.
func (s *Sender) delay(attempt int) time.Duration {
	if s.initialDelay <= 0 {
		return 0
	}
	d := s.initialDelay << min(attempt-1, 20)
	if s.maxDelay > 0 && d > s.maxDelay {
		d = s.maxDelay
	}
	half := d / 2
	return half + rand.N(half+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
