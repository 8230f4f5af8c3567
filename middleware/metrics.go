package middleware

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hedeqiang/relay/event"
)

// Metrics counts pipeline outcomes per contract.
type Metrics struct {
	outcomes *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics registers the pipeline counters with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "indexer",
			Name:      "logs_total",
			Help:      "Logs seen by the indexer pipeline, by contract and outcome.",
		}, []string{"contract", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "indexer",
			Name:      "log_failures_total",
			Help:      "Logs whose handling failed and aborted a range.",
		}, []string{"contract"}),
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// For returns the middleware for one contract.
func (m *Metrics) For(contract string) Middleware {
	return Func(func(next Handler) Handler {
		return func(ctx context.Context, lg event.Log) (Outcome, error) {
			out, err := next(ctx, lg)
			if err != nil {
				m.failures.WithLabelValues(contract).Inc()
				return out, err
			}
			m.outcomes.WithLabelValues(contract, out.String()).Inc()
			return out, nil
		}
	})
}
