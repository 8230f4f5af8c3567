// Package middleware provides the interceptors of the indexer's per-log pipeline.
package middleware

import (
	"context"

	"github.com/hedeqiang/relay/event"
)

// Outcome records what the pipeline did with a log.
type Outcome int

const (
	// Journaled means the log was decoded and appended to the journal.
	Journaled Outcome = iota
	// Unparsed means the log was written to the error journal instead.
	Unparsed
	// Duplicate means the log was already handled in this process.
	Duplicate
	// Withheld means the log is not yet confirmed or was removed by a reorg.
	Withheld
)

func (o Outcome) String() string {
	switch o {
	case Journaled:
		return "journaled"
	case Unparsed:
		return "unparsed"
	case Duplicate:
		return "duplicate"
	case Withheld:
		return "withheld"
	default:
		return "unknown"
	}
}

// Handler processes one log. A non-nil error aborts the current range so
// it is retried.
type Handler func(ctx context.Context, log event.Log) (Outcome, error)

// Middleware wraps a Handler, adding cross-cutting behavior.
type Middleware interface {
	// Wrap returns a new Handler that decorates the given inner handler.
	Wrap(next Handler) Handler
}

// Func adapts a function to Middleware.
type Func func(next Handler) Handler

// Wrap implements Middleware.
func (f Func) Wrap(next Handler) Handler { return f(next) }

// Chain composes middlewares around handler; the first one is outermost.
func Chain(handler Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i].Wrap(handler)
	}
	return handler
}
