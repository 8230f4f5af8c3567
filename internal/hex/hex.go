// Package hex provides utilities for encoding and decoding hexadecimal strings
// with the "0x" prefix used by Ethereum JSON-RPC.
package hex

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Encode returns the hexadecimal encoding of src with "0x" prefix.
func Encode(src []byte) string {
	return "0x" + hex.EncodeToString(src)
}

// Decode decodes a hex string (with or without "0x" prefix) into bytes.
func Decode(s string) ([]byte, error) {
	s = trimPrefix(s)
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// EncodeUint64 encodes a uint64 as a "0x"-prefixed quantity.
func EncodeUint64(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

// DecodeUint64 parses a "0x"-prefixed quantity.
func DecodeUint64(s string) (uint64, error) {
	return strconv.ParseUint(trimPrefix(s), 16, 64)
}

// EncodeBig encodes a non-negative big integer as a "0x"-prefixed quantity.
func EncodeBig(n *big.Int) string {
	if n == nil || n.Sign() == 0 {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

// DecodeBig parses a "0x"-prefixed quantity of arbitrary size.
func DecodeBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(trimPrefix(s), 16)
	if !ok {
		return nil, fmt.Errorf("hex: invalid quantity %q", s)
	}
	return v, nil
}

// PadLeft returns b left-padded with zeros (or truncated from the left) to size bytes.
func PadLeft(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}

func trimPrefix(s string) string {
	s = strings.TrimPrefix(s, "0x")
	return strings.TrimPrefix(s, "0X")
}
