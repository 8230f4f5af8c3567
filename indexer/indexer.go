// Package indexer turns confirmed chain logs into journal records.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/chain"
	"github.com/hedeqiang/relay/decoder"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/filter"
	"github.com/hedeqiang/relay/journal"
	"github.com/hedeqiang/relay/middleware"
	"github.com/hedeqiang/relay/watcher"
)

// Contract is one watched contract.
type Contract struct {
	Address event.Address
	Table   *decoder.Table
}

// Name returns the logical contract name.
func (c Contract) Name() string {
	return c.Table.Contract()
}

type pipeline struct {
	Contract
	handle middleware.Handler
}

// Indexer fetches, gates, decodes and journals the logs of a block range.
type Indexer struct {
	chain       chain.Chain
	chainID     uint64
	writer      *journal.Writer
	gate        *middleware.Gate
	pipelines   []pipeline
	metrics     *Metrics
	logger      zerolog.Logger
	callTimeout time.Duration
}

// Option configures an Indexer.
type Option func(*options)

type options struct {
	logger        zerolog.Logger
	registerer    prometheus.Registerer
	confirmations uint64
	callTimeout   time.Duration
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the indexer metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithConfirmations sets the confirmation depth enforced by the gate.
func WithConfirmations(n uint64) Option {
	return func(o *options) { o.confirmations = n }
}

// WithCallTimeout bounds each RPC call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// New creates an Indexer. It asks the node for its chain id once.
func New(ctx context.Context, c chain.Chain, w *journal.Writer, contracts []Contract, opts ...Option) (*Indexer, error) {
	if len(contracts) == 0 {
		return nil, errors.New("indexer: no contracts configured")
	}

	o := options{
		logger:        zerolog.Nop(),
		registerer:    prometheus.NewRegistry(),
		confirmations: 5,
		callTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	metrics, err := NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("indexer: metrics: %w", err)
	}
	pipelineMetrics, err := middleware.NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("indexer: metrics: %w", err)
	}

	ix := &Indexer{
		chain:       c,
		writer:      w,
		gate:        middleware.NewGate(o.confirmations),
		metrics:     metrics,
		logger:      o.logger.With().Str("component", "indexer").Logger(),
		callTimeout: o.callTimeout,
	}

	callCtx, cancel := ix.callContext(ctx)
	defer cancel()
	if ix.chainID, err = c.ChainID(callCtx); err != nil {
		return nil, fmt.Errorf("indexer: chain id: %w", err)
	}

	for _, ct := range contracts {
		logger := ix.logger.With().Str("contract", ct.Name()).Logger()
		ix.pipelines = append(ix.pipelines, pipeline{
			Contract: ct,
			handle: middleware.Chain(ix.journalHandler(ct),
				pipelineMetrics.For(ct.Name()),
				middleware.NewLogger(logger),
				ix.gate,
			),
		})
	}
	return ix, nil
}

// ChainID returns the chain id recorded in every record.
func (ix *Indexer) ChainID() uint64 {
	return ix.chainID
}

// HandleRange processes r for every contract. It fails as soon as one
// contract fails, leaving the range to be retried as a whole.
func (ix *Indexer) HandleRange(ctx context.Context, r watcher.Range, latest uint64) error {
	ix.gate.Advance(latest, r.From)

	for _, p := range ix.pipelines {
		if err := ix.handleContract(ctx, p, r); err != nil {
			return err
		}
	}
	ix.metrics.watermark.Set(float64(r.To))
	return nil
}

func (ix *Indexer) handleContract(ctx context.Context, p pipeline, r watcher.Range) error {
	q := filter.NewQuery(filter.WithAddresses(p.Address), filter.WithBlockRange(r.From, r.To))

	callCtx, cancel := ix.callContext(ctx)
	logs, err := ix.chain.FetchLogs(callCtx, q)
	cancel()
	if err != nil {
		ix.metrics.rpcErrors.WithLabelValues(p.Name()).Inc()
		entry := journal.RawError{
			Type:      journal.RPCError,
			Contract:  p.Name(),
			Error:     err.Error(),
			FromBlock: &r.From,
			ToBlock:   &r.To,
		}
		if jerr := ix.writer.AppendError(entry); jerr != nil {
			err = errors.Join(err, jerr)
		}
		return fmt.Errorf("indexer: %s: fetch logs %s: %w", p.Name(), r, err)
	}

	logs, dropped := filter.Apply(q.Scope(), logs)
	if dropped > 0 {
		ix.logger.Warn().
			Str("contract", p.Name()).
			Int("dropped", dropped).
			Msg("node returned logs outside the requested scope")
	}

	for _, l := range logs {
		if _, err := p.handle(ctx, l); err != nil {
			return fmt.Errorf("indexer: %s: %w", p.Name(), err)
		}
	}
	return nil
}

// journalHandler is the innermost handler: decode, then append the record
// or the raw error entry.
func (ix *Indexer) journalHandler(ct Contract) middleware.Handler {
	return func(_ context.Context, l event.Log) (middleware.Outcome, error) {
		kind, args, err := ct.Table.Decode(l)
		if err != nil {
			entry := journal.RawError{
				Type:     journal.DecodeError,
				Contract: ct.Name(),
				Error:    err.Error(),
				Log:      journal.NewRawLog(l),
			}
			if err := ix.writer.AppendError(entry); err != nil {
				return middleware.Unparsed, err
			}
			return middleware.Unparsed, nil
		}

		rec := event.Record{
			Timestamp:   ix.writer.Now(),
			ChainID:     ix.chainID,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			LogIndex:    l.LogIndex,
			Contract:    ct.Name(),
			Event:       kind,
			Args:        args,
		}
		if err := ix.writer.Append(rec); err != nil {
			return middleware.Journaled, err
		}
		return middleware.Journaled, nil
	}
}

// callContext detaches RPC calls from shutdown so they finish or time out
// instead of being cut off mid-flight.
func (ix *Indexer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if ix.callTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, ix.callTimeout)
}
