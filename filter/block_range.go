package filter

import (
	"github.com/hedeqiang/relay/event"
)

// BlockRangeFilter matches logs inside an inclusive block range.
// A nil bound leaves that side open.
type BlockRangeFilter struct {
	from *uint64
	to   *uint64
}

// NewBlockRangeFilter creates a filter over [from, to].
func NewBlockRangeFilter(from, to *uint64) *BlockRangeFilter {
	return &BlockRangeFilter{from: from, to: to}
}

// Match implements Filter.
func (f *BlockRangeFilter) Match(log event.Log) bool {
	if f.from != nil && log.BlockNumber < *f.from {
		return false
	}
	return f.to == nil || log.BlockNumber <= *f.to
}
