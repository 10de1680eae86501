package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tierkit",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Outbound webhook delivery attempts by result.",
}, []string{"result"})
