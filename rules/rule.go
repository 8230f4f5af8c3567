// Package rules loads the declarative rule set and decides which records
// earn a reward, who receives it and with which SKU.
package rules

import (
	"math/big"

	"github.com/google/cel-go/cel"

	"github.com/hedeqiang/relay/event"
)

// Rule is one trigger/match/action entry of the rule document.
type Rule struct {
	Name    string
	Trigger event.Kind

	// Match is nil when every event of the trigger qualifies.
	Match Matcher

	// Where is an optional CEL boolean expression over args and event.
	Where string

	Action Action

	where cel.Program
}

// Matcher is a conjunction of optional predicates over typed args.
// Implementations: DonationMatch, FlagMatch.
type Matcher interface {
	Matches(args event.Args) bool
	trigger() event.Kind
}

// DonationMatch filters Donated events. Nil fields are wildcards.
type DonationMatch struct {
	Payer     *event.Address
	Token     *event.Address
	SKU       *event.Hash
	Amount    *big.Int
	MinAmount *big.Int
}

func (DonationMatch) trigger() event.Kind { return event.KindDonated }

// Matches implements Matcher.
func (m DonationMatch) Matches(args event.Args) bool {
	a, ok := args.(event.DonationArgs)
	if !ok {
		return false
	}
	if m.Payer != nil && *m.Payer != a.Payer {
		return false
	}
	if m.Token != nil && *m.Token != a.Token {
		return false
	}
	if m.SKU != nil && *m.SKU != a.SKU {
		return false
	}
	if m.Amount != nil && (a.Amount == nil || m.Amount.Cmp(a.Amount) != 0) {
		return false
	}
	if m.MinAmount != nil && (a.Amount == nil || a.Amount.Cmp(m.MinAmount) < 0) {
		return false
	}
	return true
}

// FlagMatch filters FlagChanged events. Nil fields are wildcards.
type FlagMatch struct {
	TokenID  *big.Int
	Bit      *uint8
	Value    *bool
	Operator *event.Address
}

func (FlagMatch) trigger() event.Kind { return event.KindFlagChanged }

// Matches implements Matcher.
func (m FlagMatch) Matches(args event.Args) bool {
	a, ok := args.(event.FlagChangedArgs)
	if !ok {
		return false
	}
	if m.TokenID != nil && (a.TokenID == nil || m.TokenID.Cmp(a.TokenID) != 0) {
		return false
	}
	if m.Bit != nil && *m.Bit != a.Bit {
		return false
	}
	if m.Value != nil && *m.Value != a.Value {
		return false
	}
	if m.Operator != nil && *m.Operator != a.Operator {
		return false
	}
	return true
}

// Action is what a matching rule asks the distributor to do.
// The only implementation today is RewardMint.
type Action interface {
	isAction()
}

// RewardMint mints a reward to the resolved recipient.
type RewardMint struct {
	// SKU overrides the SKU carried by the event when set.
	SKU      *event.Hash
	Metadata string
}

func (RewardMint) isAction() {}
