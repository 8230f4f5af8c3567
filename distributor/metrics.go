package distributor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the distributor counters.
type Metrics struct {
	lines      *prometheus.CounterVec
	mints      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	retryQueue prometheus.Gauge
	processed  prometheus.Gauge
}

// NewMetrics registers the distributor metrics with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "distributor",
			Name:      "lines_total",
			Help:      "Journal lines read, by result (handled, skipped, invalid).",
		}, []string{"result"}),
		mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "distributor",
			Name:      "mints_total",
			Help:      "Mint attempts, by result (confirmed, retry, failed).",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "distributor",
			Name:      "failures_total",
			Help:      "Failure journal entries, by type.",
		}, []string{"type"}),
		retryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "distributor",
			Name:      "retry_queue_length",
			Help:      "Attempts waiting in the retry queue.",
		}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "distributor",
			Name:      "processed_keys",
			Help:      "Size of the processed set.",
		}),
	}
	for _, c := range []prometheus.Collector{m.lines, m.mints, m.failures, m.retryQueue, m.processed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
