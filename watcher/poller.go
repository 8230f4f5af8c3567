package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/cursor"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval between polling cycles once the poller has caught up.
	Interval time.Duration

	// ErrorBackoff is the fixed pause after a failed cycle.
	ErrorBackoff time.Duration

	// BatchSize is the maximum number of blocks handed to the handler at once.
	BatchSize uint64

	// Confirmations is the depth a block must reach before it is processed.
	Confirmations uint64

	// StartBlock is used when the cursor holds no watermark yet. When nil,
	// the poller starts at the confirmed head.
	StartBlock *uint64

	// CallTimeout bounds each head lookup.
	CallTimeout time.Duration
}

// DefaultPollerConfig returns the defaults used by the indexer.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:      5 * time.Second,
		ErrorBackoff:  10 * time.Second,
		BatchSize:     2000,
		Confirmations: 5,
		CallTimeout:   30 * time.Second,
	}
}

// Poller hands confirmed block ranges to a handler in strictly increasing
// order. The watermark advances only after the handler succeeds; a failed
// range is retried after ErrorBackoff.
type Poller struct {
	head    HeadReader
	cursor  cursor.Cursor
	key     string
	handler RangeHandler
	config  PollerConfig
	logger  zerolog.Logger

	next        uint64
	initialized bool
}

// NewPoller creates a poller whose watermark is stored under key.
func NewPoller(head HeadReader, cur cursor.Cursor, key string, handler RangeHandler, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	return &Poller{
		head:    head,
		cursor:  cur,
		key:     key,
		handler: handler,
		config:  cfg,
		logger:  logger.With().Str("component", "poller").Logger(),
	}
}

// Next returns the first block not yet processed.
func (p *Poller) Next() uint64 {
	return p.next
}

// Watch polls until ctx is cancelled. It returns nil on cancellation.
func (p *Poller) Watch(ctx context.Context) error {
	for {
		caughtUp, err := p.Step(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).
				Dur("backoff", p.config.ErrorBackoff).
				Msg("poll cycle failed, retrying the same range")
			wait = p.config.ErrorBackoff
		case caughtUp:
			wait = p.config.Interval
		}

		if err := sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Step runs one polling cycle. caughtUp reports whether the confirmed head
// has been reached.
func (p *Poller) Step(ctx context.Context) (caughtUp bool, err error) {
	latest, err := p.latest(ctx)
	if err != nil {
		return false, err
	}

	if !p.initialized {
		if err := p.resolveStart(latest); err != nil {
			return false, err
		}
	}

	if latest < p.config.Confirmations {
		return true, nil
	}
	confirmed := latest - p.config.Confirmations
	if p.next > confirmed {
		return true, nil
	}

	r := Range{From: p.next, To: confirmed}
	if r.Len() > p.config.BatchSize {
		r.To = r.From + p.config.BatchSize - 1
	}

	if err := p.handler(ctx, r, latest); err != nil {
		return false, fmt.Errorf("poller: range %s: %w", r, err)
	}
	if err := p.cursor.Save(p.key, r.To); err != nil {
		return false, fmt.Errorf("poller: save watermark: %w", err)
	}
	p.next = r.To + 1

	p.logger.Debug().
		Uint64("from_block", r.From).
		Uint64("to_block", r.To).
		Uint64("latest", latest).
		Msg("range processed")
	return p.next > confirmed, nil
}

func (p *Poller) latest(ctx context.Context) (uint64, error) {
	callCtx := context.WithoutCancel(ctx)
	if p.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, p.config.CallTimeout)
		defer cancel()
	}
	latest, err := p.head.LatestBlock(callCtx)
	if err != nil {
		return 0, fmt.Errorf("poller: latest block: %w", err)
	}
	return latest, nil
}

func (p *Poller) resolveStart(latest uint64) error {
	last, ok, err := p.cursor.Load(p.key)
	if err != nil {
		return fmt.Errorf("poller: load watermark: %w", err)
	}

	switch {
	case ok:
		p.next = last + 1
	case p.config.StartBlock != nil:
		p.next = *p.config.StartBlock
	case latest >= p.config.Confirmations:
		p.next = latest - p.config.Confirmations
	default:
		p.next = 0
	}
	p.initialized = true

	p.logger.Info().
		Uint64("start_block", p.next).
		Bool("resumed", ok).
		Msg("poller starting")
	return nil
}
