package rules

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/hedeqiang/relay/chain/ethereum"
	"github.com/hedeqiang/relay/event"
)

// ErrUnresolvableRecipient means no reward recipient can ever be derived
// for the event. It is permanent for that event only.
var ErrUnresolvableRecipient = errors.New("rules: unresolvable recipient")

// OwnerLookup answers ownerOf(tokenId) on the ownership contract.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, tokenID *big.Int) (event.Address, error)
}

// Resolver maps a record to the address that receives its reward.
type Resolver struct {
	owners OwnerLookup
}

// NewResolver creates a Resolver. owners may be nil when no ownership
// contract is configured; flag events then cannot be resolved.
func NewResolver(owners OwnerLookup) *Resolver {
	return &Resolver{owners: owners}
}

// Recipient resolves the recipient of rec. Errors that are not
// ErrUnresolvableRecipient are transient.
func (r *Resolver) Recipient(ctx context.Context, rec event.Record) (event.Address, error) {
	switch a := rec.Args.(type) {
	case event.DonationArgs:
		if a.Payer.IsZero() {
			return event.Address{}, fmt.Errorf("%w: donation has no payer", ErrUnresolvableRecipient)
		}
		return a.Payer, nil

	case event.FlagChangedArgs:
		if r.owners == nil {
			return event.Address{}, fmt.Errorf("%w: no ownership contract configured", ErrUnresolvableRecipient)
		}
		if a.TokenID == nil {
			return event.Address{}, fmt.Errorf("%w: flag event has no token id", ErrUnresolvableRecipient)
		}
		owner, err := r.owners.OwnerOf(ctx, a.TokenID)
		if err != nil {
			if ethereum.IsRevert(err) {
				return event.Address{}, fmt.Errorf("%w: ownerOf(%s): %v", ErrUnresolvableRecipient, a.TokenID, err)
			}
			return event.Address{}, fmt.Errorf("rules: ownerOf(%s): %w", a.TokenID, err)
		}
		if owner.IsZero() {
			return event.Address{}, fmt.Errorf("%w: token %s has no owner", ErrUnresolvableRecipient, a.TokenID)
		}
		return owner, nil

	default:
		return event.Address{}, fmt.Errorf("%w: event %s", ErrUnresolvableRecipient, rec.Event)
	}
}

// ResolveSKU picks the SKU to mint: the action override, then a non-zero
// SKU carried by a donation, then the zero SKU.
func ResolveSKU(rule Rule, rec event.Record) event.Hash {
	if m, ok := rule.Action.(RewardMint); ok && m.SKU != nil {
		return *m.SKU
	}
	if a, ok := rec.Args.(event.DonationArgs); ok && !a.SKU.IsZero() {
		return a.SKU
	}
	return event.Hash{}
}
