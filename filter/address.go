package filter

import (
	"github.com/hedeqiang/relay/event"
)

// AddressFilter matches logs emitted by any of the given contracts.
type AddressFilter struct {
	addresses map[event.Address]struct{}
}

// NewAddressFilter creates a filter over the given addresses.
func NewAddressFilter(addrs ...event.Address) *AddressFilter {
	m := make(map[event.Address]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return &AddressFilter{addresses: m}
}

// Match implements Filter.
func (f *AddressFilter) Match(log event.Log) bool {
	_, ok := f.addresses[log.Address]
	return ok
}
