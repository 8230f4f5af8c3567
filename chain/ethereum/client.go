// Package ethereum implements the chain interfaces against any EVM JSON-RPC node.
package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/hedeqiang/relay/chain"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/filter"
	"github.com/hedeqiang/relay/internal/hex"
	"github.com/hedeqiang/relay/transport"
)

// ErrReceiptNotFound is returned while a transaction is not yet mined.
var ErrReceiptNotFound = errors.New("ethereum: receipt not found")

// Client is an EVM chain client.
type Client struct {
	id        string
	transport transport.Transport
}

var _ chain.Chain = (*Client)(nil)

// New creates a client labelled "ethereum" on top of t.
func New(t transport.Transport) *Client {
	return NewWithID("ethereum", t)
}

// NewWithID creates a client for any EVM-compatible chain with a custom label.
func NewWithID(id string, t transport.Transport) *Client {
	return &Client{
		id:        id,
		transport: t,
	}
}

// ID returns the chain label.
func (c *Client) ID() string {
	return c.id
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ChainID returns the EIP-155 chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	return c.quantity(ctx, "eth_chainId")
}

// LatestBlock returns the latest block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.quantity(ctx, "eth_blockNumber")
}

// GasPrice returns the node's suggested legacy gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var s string
	if err := c.call(ctx, "eth_gasPrice", &s); err != nil {
		return nil, err
	}
	return hex.DecodeBig(s)
}

// PendingNonce returns the next nonce for addr, counting pending transactions.
func (c *Client) PendingNonce(ctx context.Context, addr event.Address) (uint64, error) {
	return c.quantity(ctx, "eth_getTransactionCount", addr.Hex(), "pending")
}

// FetchLogs retrieves historical logs matching the query.
func (c *Client) FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error) {
	var rawLogs []rpcLog
	if err := c.call(ctx, "eth_getLogs", &rawLogs, buildFilterParams(query)); err != nil {
		return nil, err
	}

	logs := make([]event.Log, len(rawLogs))
	for i, rl := range rawLogs {
		l, err := rl.toEventLog(c.id)
		if err != nil {
			return nil, fmt.Errorf("ethereum: convert log %d: %w", i, err)
		}
		logs[i] = l
	}
	return logs, nil
}

// CallMsg is the argument of eth_call and eth_estimateGas.
type CallMsg struct {
	From event.Address
	To   event.Address
	Data []byte
}

func (m CallMsg) params() map[string]interface{} {
	p := map[string]interface{}{
		"to":   m.To.Hex(),
		"data": hex.Encode(m.Data),
	}
	if !m.From.IsZero() {
		p["from"] = m.From.Hex()
	}
	return p
}

// Call executes a read-only call against the latest block and returns the
// raw return data. A revert surfaces as a *transport.RPCError.
func (c *Client) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	var s string
	if err := c.call(ctx, "eth_call", &s, msg.params(), "latest"); err != nil {
		return nil, err
	}
	return hex.Decode(s)
}

// EstimateGas asks the node for the gas msg would use.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return c.quantity(ctx, "eth_estimateGas", msg.params())
}

// SendRawTransaction broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (event.Hash, error) {
	var s string
	if err := c.call(ctx, "eth_sendRawTransaction", &s, hex.Encode(raw)); err != nil {
		return event.Hash{}, err
	}
	return event.HexToHash(s)
}

// TransactionReceipt returns the receipt of txHash, or ErrReceiptNotFound.
func (c *Client) TransactionReceipt(ctx context.Context, txHash event.Hash) (*chain.Receipt, error) {
	result, err := c.transport.Call(ctx, "eth_getTransactionReceipt", txHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("ethereum: eth_getTransactionReceipt: %w", err)
	}
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrReceiptNotFound
	}

	var r struct {
		TxHash      string `json:"transactionHash"`
		BlockNumber string `json:"blockNumber"`
		GasUsed     string `json:"gasUsed"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		return nil, fmt.Errorf("ethereum: parse receipt: %w", err)
	}

	out := &chain.Receipt{}
	if out.TxHash, err = event.HexToHash(r.TxHash); err != nil {
		return nil, fmt.Errorf("ethereum: parse receipt: %w", err)
	}
	for _, f := range []struct {
		dst *uint64
		src string
	}{{&out.BlockNumber, r.BlockNumber}, {&out.GasUsed, r.GasUsed}, {&out.Status, r.Status}} {
		if f.src == "" {
			continue
		}
		if *f.dst, err = hex.DecodeUint64(f.src); err != nil {
			return nil, fmt.Errorf("ethereum: parse receipt: %w", err)
		}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	result, err := c.transport.Call(ctx, method, params...)
	if err != nil {
		return fmt.Errorf("ethereum: %s: %w", method, err)
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("ethereum: %s: parse result: %w", method, err)
	}
	return nil
}

func (c *Client) quantity(ctx context.Context, method string, params ...interface{}) (uint64, error) {
	var s string
	if err := c.call(ctx, method, &s, params...); err != nil {
		return 0, err
	}
	n, err := hex.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("ethereum: %s: %w", method, err)
	}
	return n, nil
}

// buildFilterParams converts a Query into the JSON-RPC filter object.
func buildFilterParams(query filter.Query) map[string]interface{} {
	params := make(map[string]interface{})

	if query.FromBlock != nil {
		params["fromBlock"] = hex.EncodeUint64(*query.FromBlock)
	}
	if query.ToBlock != nil {
		params["toBlock"] = hex.EncodeUint64(*query.ToBlock)
	}

	switch len(query.Addresses) {
	case 0:
	case 1:
		params["address"] = query.Addresses[0].Hex()
	default:
		addrs := make([]string, len(query.Addresses))
		for i, a := range query.Addresses {
			addrs[i] = a.Hex()
		}
		params["address"] = addrs
	}

	if len(query.Topics) > 0 {
		topics := make([]interface{}, len(query.Topics))
		for i, ts := range query.Topics {
			switch len(ts) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = ts[0].Hex()
			default:
				hashes := make([]string, len(ts))
				for j, h := range ts {
					hashes[j] = h.Hex()
				}
				topics[i] = hashes
			}
		}
		params["topics"] = topics
	}

	return params
}

// rpcLog is the JSON-RPC representation of a log.
type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
	TxHash      string   `json:"transactionHash"`
	TxIndex     string   `json:"transactionIndex"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

func (rl *rpcLog) toEventLog(chainID string) (event.Log, error) {
	log := event.Log{Chain: chainID, Removed: rl.Removed}

	b, err := hex.Decode(rl.Address)
	if err != nil {
		return log, fmt.Errorf("parse address: %w", err)
	}
	copy(log.Address[:], hex.PadLeft(b, 20))

	log.Topics = make([]event.Hash, len(rl.Topics))
	for i, t := range rl.Topics {
		if log.Topics[i], err = event.HexToHash(t); err != nil {
			return log, fmt.Errorf("parse topic %d: %w", i, err)
		}
	}

	if rl.Data != "" && rl.Data != "0x" {
		if log.Data, err = hex.Decode(rl.Data); err != nil {
			return log, fmt.Errorf("parse data: %w", err)
		}
	}

	// Pending logs carry null block fields.
	if rl.BlockNumber != "" {
		if log.BlockNumber, err = hex.DecodeUint64(rl.BlockNumber); err != nil {
			return log, fmt.Errorf("parse blockNumber: %w", err)
		}
	}
	if rl.BlockHash != "" {
		if log.BlockHash, err = event.HexToHash(rl.BlockHash); err != nil {
			return log, fmt.Errorf("parse blockHash: %w", err)
		}
	}
	if rl.TxHash != "" {
		if log.TxHash, err = event.HexToHash(rl.TxHash); err != nil {
			return log, fmt.Errorf("parse txHash: %w", err)
		}
	}
	if rl.TxIndex != "" {
		idx, err := hex.DecodeUint64(rl.TxIndex)
		if err != nil {
			return log, fmt.Errorf("parse txIndex: %w", err)
		}
		log.TxIndex = uint(idx)
	}
	if rl.LogIndex != "" {
		idx, err := hex.DecodeUint64(rl.LogIndex)
		if err != nil {
			return log, fmt.Errorf("parse logIndex: %w", err)
		}
		log.LogIndex = uint(idx)
	}

	return log, nil
}
