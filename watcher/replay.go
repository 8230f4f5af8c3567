package watcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/retry"
)

// Replay processes a fixed block window once. Each batch is retried with
// backoff; if a batch keeps failing the replay stops with an error rather
// than skipping it.
type Replay struct {
	head      HeadReader
	handler   RangeHandler
	batchSize uint64
	strategy  retry.Strategy
	logger    zerolog.Logger
}

// NewReplay creates a one-shot replay.
func NewReplay(head HeadReader, handler RangeHandler, batchSize uint64, strategy retry.Strategy, logger zerolog.Logger) *Replay {
	if batchSize == 0 {
		batchSize = 2000
	}
	return &Replay{
		head:      head,
		handler:   handler,
		batchSize: batchSize,
		strategy:  strategy,
		logger:    logger.With().Str("component", "replay").Logger(),
	}
}

// Window returns the last size blocks that have at least confirmations
// confirmations at the current head.
func (r *Replay) Window(ctx context.Context, size, confirmations uint64) (Range, uint64, error) {
	latest, err := r.head.LatestBlock(ctx)
	if err != nil {
		return Range{}, 0, fmt.Errorf("replay: latest block: %w", err)
	}
	if latest < confirmations {
		return Range{}, latest, fmt.Errorf("replay: head %d is below the confirmation depth %d", latest, confirmations)
	}
	to := latest - confirmations
	from := uint64(0)
	if size > 0 && to+1 > size {
		from = to + 1 - size
	}
	return Range{From: from, To: to}, latest, nil
}

// Run processes window in batches against head latest.
func (r *Replay) Run(ctx context.Context, window Range, latest uint64) error {
	if window.From > window.To {
		return fmt.Errorf("replay: empty window %s", window)
	}

	for _, batch := range split(window.From, window.To, r.batchSize) {
		attempt := 0
		err := retry.Do(ctx, r.strategy, func(ctx context.Context) error {
			attempt++
			err := r.handler(ctx, batch, latest)
			if err != nil {
				r.logger.Warn().Err(err).
					Uint64("from_block", batch.From).
					Uint64("to_block", batch.To).
					Int("attempt", attempt).
					Msg("batch failed")
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("replay: batch %s: %w", batch, err)
		}
		r.logger.Info().
			Uint64("from_block", batch.From).
			Uint64("to_block", batch.To).
			Msg("batch processed")
	}
	return nil
}
