package webhook_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/webhook"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// endpoint answers with the scripted status codes in order, repeating the last.
func endpoint(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		w.WriteHeader(statuses[min(n, len(statuses))-1])
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	_, err := webhook.NewSender("ftp://example.com", "s")
	assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)
	_, err = webhook.NewSender("https://example.com/hook", "")
	assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)
}

func TestSendSignsRequest(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"type":"subscription.changed"}`)
	got := make(chan *http.Request, 1)
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		got <- r
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	s, err := webhook.NewSender(srv.URL, "s3cret")
	require.NoError(t, err)
	require.NoError(t, s.Send(t.Context(), "d_1", payload))

	r := <-got
	assert.Equal(t, "d_1", r.Header.Get(webhook.DeliveryHeader))
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.Equal(t, payload, body)
	assert.NoError(t, webhook.Verify("s3cret", r.Header.Get(webhook.SignatureHeader), body, time.Minute, time.Now()))
}

func TestSendRetries(t *testing.T) {
	t.Parallel()

	t.Run("temporary then ok", func(t *testing.T) {
		t.Parallel()
		srv, hits := endpoint(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)
		s, err := webhook.NewSender(srv.URL, "s", webhook.WithRetries(3), webhook.WithBackoff(0, 0))
		require.NoError(t, err)

		require.NoError(t, s.Send(t.Context(), "d", []byte("{}")))
		assert.EqualValues(t, 3, hits.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		t.Parallel()
		srv, hits := endpoint(t, http.StatusBadGateway)
		s, err := webhook.NewSender(srv.URL, "s", webhook.WithRetries(2), webhook.WithBackoff(0, 0))
		require.NoError(t, err)

		err = s.Send(t.Context(), "d", []byte("{}"))
		assert.ErrorIs(t, err, webhook.ErrTemporaryFailure)
		assert.EqualValues(t, 3, hits.Load())
	})

	t.Run("client error is permanent", func(t *testing.T) {
		t.Parallel()
		srv, hits := endpoint(t, http.StatusGone)
		s, err := webhook.NewSender(srv.URL, "s", webhook.WithRetries(5), webhook.WithBackoff(0, 0))
		require.NoError(t, err)

		err = s.Send(t.Context(), "d", []byte("{}"))
		assert.ErrorIs(t, err, webhook.ErrPermanentFailure)
		assert.EqualValues(t, 1, hits.Load())
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()
		s, err := webhook.NewSender("http://127.0.0.1:1/hook", "s")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Send(t.Context(), "d", nil), webhook.ErrInvalidPayload)
	})
}

func TestSendCircuitBreaker(t *testing.T) {
	t.Parallel()

	srv, hits := endpoint(t, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := webhook.NewSender(srv.URL, "s",
		webhook.WithRetries(0),
		webhook.WithCircuitBreaker(2, time.Minute),
		webhook.WithClock(clock.Now),
	)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Send(t.Context(), "d", []byte("{}")), webhook.ErrTemporaryFailure)
	assert.ErrorIs(t, s.Send(t.Context(), "d", []byte("{}")), webhook.ErrTemporaryFailure)

	// Open: the endpoint is not called.
	assert.ErrorIs(t, s.Send(t.Context(), "d", []byte("{}")), webhook.ErrCircuitOpen)
	assert.EqualValues(t, 2, hits.Load())

	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Send(t.Context(), "d", []byte("{}")))
	require.NoError(t, s.Send(t.Context(), "d", []byte("{}")))
	assert.EqualValues(t, 4, hits.Load())
}
