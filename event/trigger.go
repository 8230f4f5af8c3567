package event

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// Key formats the idempotency key for a (txHash, logIndex) pair.
func Key(txHash Hash, logIndex uint) string {
	return txHash.Hex() + ":" + strconv.FormatUint(uint64(logIndex), 10)
}

// TriggerMode selects how a trigger id is derived.
type TriggerMode string

const (
	// TriggerHash derives the id as keccak256(txHash || uint256(logIndex)).
	TriggerHash TriggerMode = "hash"

	// TriggerTruncate keeps the leading 28 bytes of the tx hash and appends
	// the log index as a 4-byte big-endian integer. Two logs of one
	// transaction only differ in the last four bytes.
	TriggerTruncate TriggerMode = "truncate"
)

// ParseTriggerMode validates a mode name.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch m := TriggerMode(s); m {
	case TriggerHash, TriggerTruncate:
		return m, nil
	default:
		return "", fmt.Errorf("event: unknown trigger id mode %q", s)
	}
}

// TriggerID derives the 32-byte on-chain idempotency token for an event.
func TriggerID(mode TriggerMode, txHash Hash, logIndex uint) Hash {
	var out Hash
	switch mode {
	case TriggerTruncate:
		copy(out[:28], txHash[:28])
		binary.BigEndian.PutUint32(out[28:], uint32(logIndex))
	default:
		var idx [32]byte
		new(big.Int).SetUint64(uint64(logIndex)).FillBytes(idx[:])
		h := sha3.NewLegacyKeccak256()
		h.Write(txHash[:])
		h.Write(idx[:])
		copy(out[:], h.Sum(nil))
	}
	return out
}
