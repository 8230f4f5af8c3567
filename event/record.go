package event

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Kind identifies a decoded event type.
type Kind string

const (
	// KindDonated is emitted by the donation router for every donation.
	KindDonated Kind = "Donated"

	// KindFlagChanged is emitted by the flag registry when a token flag bit changes.
	KindFlagChanged Kind = "FlagChanged"

	// KindUnparsed marks a log that could not be matched to a known event.
	KindUnparsed Kind = "Unparsed"
)

// ErrUnknownKind is returned when a journal line names an event this build does not know.
var ErrUnknownKind = errors.New("event: unknown event kind")

// Args is the typed payload of a Record. The set of implementations is closed.
type Args interface {
	Kind() Kind
	isArgs()
}

// DonationArgs is the payload of a Donated event.
type DonationArgs struct {
	Payer   Address  `abi:"payer"`
	Token   Address  `abi:"token"`
	Amount  *big.Int `abi:"amount"`
	SKU     Hash     `abi:"sku"`
	TraceID Hash     `abi:"traceId"`
}

// Kind implements Args.
func (DonationArgs) Kind() Kind { return KindDonated }
func (DonationArgs) isArgs()    {}

type donationJSON struct {
	Payer   Address `json:"payer"`
	Token   Address `json:"token"`
	Amount  string  `json:"amount"`
	SKU     Hash    `json:"sku"`
	TraceID Hash    `json:"traceId"`
}

// MarshalJSON encodes the amount as a decimal string so no precision is lost.
func (a DonationArgs) MarshalJSON() ([]byte, error) {
	return json.Marshal(donationJSON{
		Payer:   a.Payer,
		Token:   a.Token,
		Amount:  bigString(a.Amount),
		SKU:     a.SKU,
		TraceID: a.TraceID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *DonationArgs) UnmarshalJSON(data []byte) error {
	var v donationJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	amount, err := parseBig("amount", v.Amount)
	if err != nil {
		return err
	}
	*a = DonationArgs{Payer: v.Payer, Token: v.Token, Amount: amount, SKU: v.SKU, TraceID: v.TraceID}
	return nil
}

// FlagChangedArgs is the payload of a FlagChanged event.
type FlagChangedArgs struct {
	TokenID  *big.Int `abi:"tokenId"`
	Bit      uint8    `abi:"bit"`
	Value    bool     `abi:"value"`
	Operator Address  `abi:"operator"`
	TraceID  Hash     `abi:"traceId"`
}

// Kind implements Args.
func (FlagChangedArgs) Kind() Kind { return KindFlagChanged }
func (FlagChangedArgs) isArgs()    {}

type flagChangedJSON struct {
	TokenID  string  `json:"tokenId"`
	Bit      uint8   `json:"bit"`
	Value    bool    `json:"value"`
	Operator Address `json:"operator"`
	TraceID  Hash    `json:"traceId"`
}

// MarshalJSON implements json.Marshaler.
func (a FlagChangedArgs) MarshalJSON() ([]byte, error) {
	return json.Marshal(flagChangedJSON{
		TokenID:  bigString(a.TokenID),
		Bit:      a.Bit,
		Value:    a.Value,
		Operator: a.Operator,
		TraceID:  a.TraceID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *FlagChangedArgs) UnmarshalJSON(data []byte) error {
	var v flagChangedJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	tokenID, err := parseBig("tokenId", v.TokenID)
	if err != nil {
		return err
	}
	*a = FlagChangedArgs{TokenID: tokenID, Bit: v.Bit, Value: v.Value, Operator: v.Operator, TraceID: v.TraceID}
	return nil
}

// UnparsedArgs carries a log the decoder could not turn into a known event.
// It is never written to the main journal.
type UnparsedArgs struct {
	Topics []Hash
	Data   []byte
	Reason string
}

// Kind implements Args.
func (UnparsedArgs) Kind() Kind { return KindUnparsed }
func (UnparsedArgs) isArgs()    {}

// MarshalJSON implements json.Marshaler.
func (a UnparsedArgs) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Topics []Hash `json:"topics"`
		Data   string `json:"data"`
		Reason string `json:"reason"`
	}{a.Topics, "0x" + hex.EncodeToString(a.Data), a.Reason})
}

// Record is the unit written to the journal: one decoded, confirmed log.
type Record struct {
	Timestamp   time.Time
	ChainID     uint64
	BlockNumber uint64
	TxHash      Hash
	LogIndex    uint
	Contract    string
	Event       Kind
	Args        Args
}

// Key returns the idempotency key of the record.
func (r Record) Key() string {
	return Key(r.TxHash, r.LogIndex)
}

type recordHeader struct {
	Timestamp   time.Time `json:"timestamp"`
	ChainID     uint64    `json:"chainId"`
	BlockNumber uint64    `json:"blockNumber"`
	TxHash      Hash      `json:"txHash"`
	LogIndex    uint      `json:"logIndex"`
	Contract    string    `json:"contract"`
	Event       Kind      `json:"event"`
}

// MarshalJSON writes the header fields followed by the flattened args.
func (r Record) MarshalJSON() ([]byte, error) {
	head, err := json.Marshal(recordHeader{
		Timestamp:   r.Timestamp.UTC(),
		ChainID:     r.ChainID,
		BlockNumber: r.BlockNumber,
		TxHash:      r.TxHash,
		LogIndex:    r.LogIndex,
		Contract:    r.Contract,
		Event:       r.Event,
	})
	if err != nil {
		return nil, err
	}
	if r.Args == nil {
		return head, nil
	}
	args, err := json.Marshal(r.Args)
	if err != nil {
		return nil, err
	}
	if len(args) <= 2 { // "{}"
		return head, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(head) + len(args))
	buf.Write(head[:len(head)-1])
	buf.WriteByte(',')
	buf.Write(args[1:])
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a journal line, choosing the args type from the event name.
func (r *Record) UnmarshalJSON(data []byte) error {
	var h recordHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}

	var args Args
	switch h.Event {
	case KindDonated:
		var a DonationArgs
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("event: decode %s args: %w", h.Event, err)
		}
		args = a
	case KindFlagChanged:
		var a FlagChangedArgs
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("event: decode %s args: %w", h.Event, err)
		}
		args = a
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, h.Event)
	}

	*r = Record{
		Timestamp:   h.Timestamp,
		ChainID:     h.ChainID,
		BlockNumber: h.BlockNumber,
		TxHash:      h.TxHash,
		LogIndex:    h.LogIndex,
		Contract:    h.Contract,
		Event:       h.Event,
		Args:        args,
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("event: missing %s", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("event: invalid %s %q", field, s)
	}
	return v, nil
}
