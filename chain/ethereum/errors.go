package ethereum

import (
	"errors"
	"strings"

	"github.com/hedeqiang/relay/transport"
)

// ErrReverted marks a call or transaction the EVM rejected. Retrying it
// unchanged will fail again.
var ErrReverted = errors.New("ethereum: execution reverted")

// revertCode is the JSON-RPC error code geth uses for reverts carrying data.
const revertCode = 3

// IsRevert reports whether err is an EVM revert as opposed to a transport
// or node availability problem.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReverted) {
		return true
	}
	var rpcErr *transport.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == revertCode || strings.Contains(strings.ToLower(rpcErr.Message), "revert")
	}
	return false
}

// asRevert wraps a revert in ErrReverted and passes any other error through.
func asRevert(err error) error {
	if err == nil || errors.Is(err, ErrReverted) || !IsRevert(err) {
		return err
	}
	return errors.Join(ErrReverted, err)
}
