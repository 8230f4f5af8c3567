package middleware

import (
	"context"
	"sync"

	"github.com/hedeqiang/relay/event"
)

type seenKey struct {
	tx    event.Hash
	index uint
}

// Gate drops logs that were already handled in this process and withholds
// logs that are removed or not yet buried under enough confirmations.
// It is the only in-memory dedup the indexer keeps; a restart relies on the
// watermark instead.
type Gate struct {
	confirmations uint64

	mu     sync.Mutex
	latest uint64
	seen   map[seenKey]uint64 // key -> block number
}

// NewGate creates a gate requiring the given confirmation depth.
func NewGate(confirmations uint64) *Gate {
	return &Gate{
		confirmations: confirmations,
		seen:          make(map[seenKey]uint64),
	}
}

// Advance records the current head and forgets keys from blocks below
// rangeStart, which can no longer be fetched again.
func (g *Gate) Advance(latest, rangeStart uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latest = latest
	for k, block := range g.seen {
		if block < rangeStart {
			delete(g.seen, k)
		}
	}
}

// Confirmed reports whether block has enough confirmations at the current head.
func (g *Gate) Confirmed(block uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmedLocked(block)
}

func (g *Gate) confirmedLocked(block uint64) bool {
	return g.latest >= block && g.latest-block >= g.confirmations
}

// Len returns the number of remembered keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Wrap implements Middleware. A key is remembered only after next succeeds.
func (g *Gate) Wrap(next Handler) Handler {
	return func(ctx context.Context, lg event.Log) (Outcome, error) {
		key := seenKey{tx: lg.TxHash, index: lg.LogIndex}

		g.mu.Lock()
		if lg.Removed || !g.confirmedLocked(lg.BlockNumber) {
			g.mu.Unlock()
			return Withheld, nil
		}
		if _, dup := g.seen[key]; dup {
			g.mu.Unlock()
			return Duplicate, nil
		}
		g.mu.Unlock()

		out, err := next(ctx, lg)
		if err != nil {
			return out, err
		}

		g.mu.Lock()
		g.seen[key] = lg.BlockNumber
		g.mu.Unlock()
		return out, nil
	}
}
