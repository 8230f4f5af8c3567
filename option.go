package relay

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/config"
	"github.com/hedeqiang/relay/transport"
)

// Option overrides a dependency of NewIndexer or NewDistributor.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	registerer prometheus.Registerer
	transport  transport.Transport
	now        func() time.Time
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer registers the process metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTransport replaces the JSON-RPC transport built from RPC_URL.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithClock replaces time.Now for journals, state and the breaker.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:     zerolog.Nop(),
		registerer: prometheus.NewRegistry(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// dial returns the injected transport or builds one for cfg.
func (o options) dial(cfg config.Common) transport.Transport {
	if o.transport != nil {
		return o.transport
	}
	topts := []transport.Option{
		transport.WithHTTPClient(&http.Client{Timeout: cfg.RPCTimeout}),
	}
	if cfg.RPCRateLimit > 0 {
		burst := int(math.Ceil(cfg.RPCRateLimit))
		topts = append(topts, transport.WithRateLimit(cfg.RPCRateLimit, burst))
	}
	return transport.New(cfg.RPCURL, topts...)
}
