package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics
type Metrics struct {
	CommandsAccepted   *prometheus.CounterVec
	CommandsRejected   *prometheus.CounterVec
	SnapshotsPublished prometheus.Counter
	PublishFailures    prometheus.Counter
	PublishTime        prometheus.Histogram
	ExternalApplied    prometheus.Counter
	StaleDiscarded     prometheus.Counter
	ActiveFlights      prometheus.Gauge
	ActiveObservers    prometheus.Gauge
}

// NewMetrics creates new prometheus metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CommandsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_accepted_total",
			Help:      "Accepted control-layer commands",
		}, []string{"command"}),
		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Rejected control-layer commands",
		}, []string{"reason"}),
		SnapshotsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshots written to the sync backend",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed backend writes (rolled back locally)",
		}),
		PublishTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_time_seconds",
			Help:      "Time taken to write a snapshot to the backend",
			Buckets:   prometheus.DefBuckets,
		}),
		ExternalApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_snapshots_applied_total",
			Help:      "Foreign snapshots applied from the sync backend",
		}),
		StaleDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_snapshots_discarded_total",
			Help:      "Inbound snapshots discarded as stale or self-echo",
		}),
		ActiveFlights: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_flights",
			Help:      "Turnarounds currently in the live set",
		}),
		ActiveObservers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_observers",
			Help:      "Currently connected observer subscriptions",
		}),
	}
}
