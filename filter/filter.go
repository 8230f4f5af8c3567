// Package filter builds eth_getLogs queries and the predicates the indexer
// uses to scope what a node returns.
package filter

import (
	"github.com/hedeqiang/relay/event"
)

// Filter reports whether a log belongs to the caller's scope.
type Filter interface {
	Match(log event.Log) bool
}

// Func adapts a plain function to Filter.
type Func func(log event.Log) bool

// Match implements Filter.
func (f Func) Match(log event.Log) bool { return f(log) }

// Query describes the parameters of one eth_getLogs request.
type Query struct {
	Addresses []event.Address
	Topics    [][]event.Hash
	FromBlock *uint64
	ToBlock   *uint64
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// NewQuery creates a Query with the given options applied.
func NewQuery(opts ...QueryOption) Query {
	var q Query
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// WithAddresses adds contract addresses to filter on.
func WithAddresses(addrs ...event.Address) QueryOption {
	return func(q *Query) {
		q.Addresses = append(q.Addresses, addrs...)
	}
}

// WithTopics sets the topic filters. Each element of the outer slice is a
// topic position; hashes within a position are OR-matched.
func WithTopics(topics ...[]event.Hash) QueryOption {
	return func(q *Query) {
		q.Topics = topics
	}
}

// WithBlockRange sets both ends of the inclusive block range.
func WithBlockRange(from, to uint64) QueryOption {
	return func(q *Query) {
		q.FromBlock = &from
		q.ToBlock = &to
	}
}

// Scope returns the predicate equivalent of the query's address and block
// constraints. Topics are not included.
func (q Query) Scope() Filter {
	var parts []Filter
	if len(q.Addresses) > 0 {
		parts = append(parts, NewAddressFilter(q.Addresses...))
	}
	if q.FromBlock != nil || q.ToBlock != nil {
		parts = append(parts, NewBlockRangeFilter(q.FromBlock, q.ToBlock))
	}
	return AllOf(parts...)
}

// AllOf matches when every child matches. An empty set matches everything.
func AllOf(filters ...Filter) Filter {
	return Func(func(log event.Log) bool {
		for _, f := range filters {
			if !f.Match(log) {
				return false
			}
		}
		return true
	})
}

// Apply returns the logs accepted by f, preserving order, and the number dropped.
func Apply(f Filter, logs []event.Log) ([]event.Log, int) {
	kept := logs[:0:0]
	for _, l := range logs {
		if f.Match(l) {
			kept = append(kept, l)
		}
	}
	return kept, len(logs) - len(kept)
}
