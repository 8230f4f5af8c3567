// Package relay assembles the two relay processes: the indexer, which
// journals confirmed contract events, and the distributor, which mints
// rewards for journaled events that match the rule set.
//
// Usage:
//
//	cfg, err := config.LoadIndexer()
//	if err != nil {
//	    return err
//	}
//	ix, err := relay.NewIndexer(ctx, cfg, relay.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer ix.Close()
//	return ix.Run(ctx)
package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/chain/ethereum"
	"github.com/hedeqiang/relay/config"
	"github.com/hedeqiang/relay/cursor"
	"github.com/hedeqiang/relay/decoder"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/indexer"
	"github.com/hedeqiang/relay/journal"
	"github.com/hedeqiang/relay/retry"
	"github.com/hedeqiang/relay/watcher"
)

const cursorFile = "cursor.json"

// Indexer is a configured indexer process.
type Indexer struct {
	cfg     *config.Indexer
	client  *ethereum.Client
	indexer *indexer.Indexer
	cursor  cursor.Cursor
	logger  zerolog.Logger
}

// NewIndexer wires the indexer for cfg and asks the node for its chain id.
func NewIndexer(ctx context.Context, cfg *config.Indexer, opts ...Option) (*Indexer, error) {
	o := buildOptions(opts)

	var contracts []indexer.Contract
	for _, c := range []struct {
		name string
		addr *event.Address
	}{
		{decoder.DonationRouter, cfg.DonationRouter},
		{decoder.FlagRegistry, cfg.FlagRegistry},
	} {
		if c.addr == nil {
			continue
		}
		table, err := decoder.TableFor(c.name)
		if err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
		contracts = append(contracts, indexer.Contract{Address: *c.addr, Table: table})
	}
	if len(contracts) == 0 {
		return nil, ErrNoContracts
	}

	w, err := journal.NewWriter(cfg.LogDir, journal.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}

	client := ethereum.New(o.dial(cfg.Common))
	ix, err := indexer.New(ctx, client, w, contracts,
		indexer.WithLogger(o.logger),
		indexer.WithRegisterer(o.registerer),
		indexer.WithConfirmations(cfg.Confirmations),
		indexer.WithCallTimeout(cfg.RPCTimeout),
	)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Indexer{
		cfg:     cfg,
		client:  client,
		indexer: ix,
		cursor:  cursor.NewFile(filepath.Join(cfg.StateDir, cursorFile)),
		logger:  o.logger,
	}, nil
}

// cursorKey scopes the watermark to the chain so a changed RPC_URL
// never resumes from another chain's block.
func (x *Indexer) cursorKey() string {
	return fmt.Sprintf("indexer:%d", x.indexer.ChainID())
}

// Run polls until ctx ends. The watermark is saved after every range.
func (x *Indexer) Run(ctx context.Context) error {
	p := watcher.NewPoller(x.client, x.cursor, x.cursorKey(), x.indexer.HandleRange, watcher.PollerConfig{
		Interval:      x.cfg.PollInterval,
		ErrorBackoff:  x.cfg.ErrorBackoff,
		BatchSize:     x.cfg.BatchSize,
		Confirmations: x.cfg.Confirmations,
		StartBlock:    x.cfg.StartBlock,
		CallTimeout:   x.cfg.RPCTimeout,
	}, x.logger)
	return p.Watch(ctx)
}

// Once processes one window and returns. Without from and to it takes the
// last ONCE_WINDOW confirmed blocks. The watermark is not touched.
func (x *Indexer) Once(ctx context.Context, from, to *uint64) error {
	// OnceMaxAttempts counts the first try, Backoff counts retries.
	strategy := &retry.Backoff{
		MaxAttempts:  max(x.cfg.OnceMaxAttempts-1, 0),
		InitialDelay: time.Second,
		MaxDelay:     x.cfg.ErrorBackoff,
		Multiplier:   2,
	}
	rp := watcher.NewReplay(x.client, x.indexer.HandleRange, x.cfg.BatchSize, strategy, x.logger)

	window, latest, err := rp.Window(ctx, x.cfg.OnceWindow, x.cfg.Confirmations)
	if err != nil {
		return err
	}
	confirmed := window.To
	if to != nil {
		window.To = *to
	}
	if from != nil {
		window.From = *from
	} else if to != nil {
		window.From = 0
		if window.To+1 > x.cfg.OnceWindow {
			window.From = window.To + 1 - x.cfg.OnceWindow
		}
	}
	if window.From > window.To {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}
	if window.To > confirmed {
		return fmt.Errorf("%w: %s ends past the confirmed head %d", ErrInvalidWindow, window, confirmed)
	}

	x.logger.Info().
		Uint64("from_block", window.From).
		Uint64("to_block", window.To).
		Uint64("latest", latest).
		Msg("processing window")
	return rp.Run(ctx, window, latest)
}

// Close releases the RPC transport.
func (x *Indexer) Close() error {
	return x.client.Close()
}
