// Package distributor consumes the journal, applies the rule set and
// mints rewards for matching records.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hedeqiang/relay/chain"
	"github.com/hedeqiang/relay/chain/ethereum"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/rules"
)

// Minter is the write side of the reward contract.
type Minter interface {
	SimulateMint(ctx context.Context, req chain.MintRequest) error
	SubmitMint(ctx context.Context, req chain.MintRequest) (event.Hash, error)
	WaitMined(ctx context.Context, txHash event.Hash) (*chain.Receipt, error)
}

// Phase is a step of one distribution attempt.
type Phase int

const (
	Pending Phase = iota
	Simulating
	Submitted
	Confirmed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Simulating:
		return "simulating"
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var errUnsupportedAction = errors.New("distributor: unsupported action")

// Result is where an attempt ended. Phase is Confirmed on success,
// Failed for a permanent failure and Pending for a transient one.
type Result struct {
	Phase    Phase
	FailedAt Phase
	TxHash   event.Hash
	Receipt  *chain.Receipt
	Err      error
}

// Permanent reports whether retrying cannot help.
func (r Result) Permanent() bool {
	return r.Phase == Failed
}

func (r Result) fail(at Phase, err error) Result {
	r.FailedAt = at
	r.Err = err
	if permanent(err) {
		r.Phase = Failed
	} else {
		r.Phase = Pending
	}
	return r
}

// permanent separates deterministic rejections from infrastructure
// failures.
func permanent(err error) bool {
	return ethereum.IsRevert(err) ||
		errors.Is(err, rules.ErrUnresolvableRecipient) ||
		errors.Is(err, errUnsupportedAction)
}

// Executor runs one mint through simulate, submit and confirm.
type Executor struct {
	minter         Minter
	callTimeout    time.Duration
	receiptTimeout time.Duration
}

// NewExecutor creates an Executor. callTimeout bounds simulate and
// submit; receiptTimeout bounds the wait for the receipt.
func NewExecutor(m Minter, callTimeout, receiptTimeout time.Duration) *Executor {
	return &Executor{minter: m, callTimeout: callTimeout, receiptTimeout: receiptTimeout}
}

// Execute always simulates before submitting. A revert at any step is
// permanent; anything else leaves the attempt Pending.
func (e *Executor) Execute(ctx context.Context, req chain.MintRequest) Result {
	res := Result{Phase: Simulating}

	callCtx, cancel := detach(ctx, e.callTimeout)
	err := e.minter.SimulateMint(callCtx, req)
	cancel()
	if err != nil {
		return res.fail(Simulating, fmt.Errorf("simulate: %w", err))
	}

	callCtx, cancel = detach(ctx, e.callTimeout)
	hash, err := e.minter.SubmitMint(callCtx, req)
	cancel()
	if err != nil {
		return res.fail(Submitted, fmt.Errorf("submit: %w", err))
	}
	res.Phase = Submitted
	res.TxHash = hash

	waitCtx, cancel := detach(ctx, e.receiptTimeout)
	receipt, err := e.minter.WaitMined(waitCtx, hash)
	cancel()
	if err != nil {
		return res.fail(Submitted, fmt.Errorf("confirm %s: %w", hash.Hex(), err))
	}
	res.Receipt = receipt
	if !receipt.Succeeded() {
		return res.fail(Submitted, fmt.Errorf("%w: tx %s in block %d", ethereum.ErrReverted, hash.Hex(), receipt.BlockNumber))
	}

	res.Phase = Confirmed
	return res
}

// detach keeps RPC calls alive through shutdown; they end by timeout.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, timeout)
}
