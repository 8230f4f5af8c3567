// Package watcher drives the indexer over confirmed block ranges.
package watcher

import (
	"context"
	"fmt"
	"time"
)

// Range is an inclusive block range.
type Range struct {
	From uint64
	To   uint64
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// Len returns the number of blocks in the range.
func (r Range) Len() uint64 {
	return r.To - r.From + 1
}

// RangeHandler processes every log in r. latest is the head the range was
// computed against. A non-nil error means the range must be retried.
type RangeHandler func(ctx context.Context, r Range, latest uint64) error

// HeadReader reports the chain head.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Watcher runs until ctx is cancelled or the work is done.
type Watcher interface {
	Watch(ctx context.Context) error
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// split cuts [from, to] into consecutive ranges of at most size blocks.
func split(from, to, size uint64) []Range {
	if size == 0 {
		size = 1
	}
	var out []Range
	for from <= to {
		end := to
		if to-from >= size {
			end = from + size - 1
		}
		out = append(out, Range{From: from, To: end})
		if end == to {
			break
		}
		from = end + 1
	}
	return out
}
