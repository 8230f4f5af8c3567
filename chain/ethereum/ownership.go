package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/hedeqiang/relay/event"
)

// Ownership reads token owners from an ERC-721 style contract.
type Ownership struct {
	client   *Client
	contract event.Address
	abi      abi.ABI
}

// NewOwnership creates an ownerOf reader for contract.
func NewOwnership(client *Client, contract event.Address) (*Ownership, error) {
	parsed, err := loadABI("ownership")
	if err != nil {
		return nil, err
	}
	return &Ownership{client: client, contract: contract, abi: parsed}, nil
}

// OwnerOf returns the current owner of tokenID. A nonexistent token reverts
// and is reported as ErrReverted.
func (o *Ownership) OwnerOf(ctx context.Context, tokenID *big.Int) (event.Address, error) {
	data, err := o.abi.Pack("ownerOf", tokenID)
	if err != nil {
		return event.Address{}, fmt.Errorf("ethereum: pack ownerOf: %w", err)
	}
	out, err := o.client.Call(ctx, CallMsg{To: o.contract, Data: data})
	if err != nil {
		return event.Address{}, asRevert(err)
	}
	// Some tokens return empty data instead of reverting.
	if len(out) == 0 {
		return event.Address{}, fmt.Errorf("%w: ownerOf(%s) returned no data", ErrReverted, tokenID)
	}

	values, err := o.abi.Unpack("ownerOf", out)
	if err != nil {
		return event.Address{}, fmt.Errorf("ethereum: unpack ownerOf: %w", err)
	}
	owner, ok := values[0].(ethcommon.Address)
	if !ok {
		return event.Address{}, fmt.Errorf("ethereum: unpack ownerOf: unexpected %T", values[0])
	}
	return event.Address(owner), nil
}
