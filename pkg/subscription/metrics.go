package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "billing",
		Name:      "events_total",
		Help:      "Billing events handled by the processor, by type and outcome.",
	}, []string{"type", "outcome"})

	casRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "billing",
		Name:      "cas_retries_total",
		Help:      "Optimistic write attempts lost to a concurrent update.",
	}, []string{"component"})

	supersededSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "billing",
		Name:      "superseded_subscriptions_total",
		Help:      "Live subscriptions replaced by a checkout without a recorded cancellation.",
	})

	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tierkit",
		Subsystem: "billing",
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of billing gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "result"})

	authorizeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "access",
		Name:      "decisions_total",
		Help:      "Access guard decisions by result.",
	}, []string{"result"})

	staleRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "access",
		Name:      "stale_records_total",
		Help:      "Active records evaluated after their billing period ended.",
	})

	resyncRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "billing",
		Name:      "resync_requests_total",
		Help:      "Provider resyncs of stale records by result.",
	}, []string{"result"})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tierkit",
		Subsystem: "notifier",
		Name:      "dropped_total",
		Help:      "Change notifications dropped because the queue was full or closed.",
	})
)
