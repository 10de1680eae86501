package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tierkit",
	Subsystem: "usage",
	Name:      "rejections_total",
	Help:      "Usage consumption attempts rejected because the quota was exhausted.",
}, []string{"tier", "quota"})
