package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds indexer-level gauges and counters.
type Metrics struct {
	rpcErrors *prometheus.CounterVec
	watermark prometheus.Gauge
}

// NewMetrics registers the indexer metrics with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "indexer",
			Name:      "rpc_errors_total",
			Help:      "Failed log fetches, by contract.",
		}, []string{"contract"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "indexer",
			Name:      "watermark_block",
			Help:      "Last block whose logs were fully journaled.",
		}),
	}
	for _, c := range []prometheus.Collector{m.rpcErrors, m.watermark} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
