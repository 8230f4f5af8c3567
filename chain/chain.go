// Package chain defines the read and write surfaces the indexer and the
// distributor need from an EVM node.
package chain

import (
	"context"

	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/filter"
)

// Chain is the read side used by the indexer.
type Chain interface {
	// ID returns a short label for logs and metrics (e.g. "ethereum").
	ID() string

	// ChainID returns the numeric EIP-155 chain id reported by the node.
	ChainID(ctx context.Context) (uint64, error)

	// LatestBlock returns the most recent block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// FetchLogs retrieves historical event logs matching the given query.
	FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error)
}

// MintRequest is one reward mint call.
type MintRequest struct {
	To        event.Address
	SKU       event.Hash
	TriggerID event.Hash
	Metadata  string
}

// Receipt is the subset of a transaction receipt the distributor inspects.
type Receipt struct {
	TxHash      event.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}
