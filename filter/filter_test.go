package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hedeqiang/relay/event"
)

func TestQueryScope(t *testing.T) {
	router := event.MustHexToAddress("0x00000000000000000000000000000000000000aa")
	other := event.MustHexToAddress("0x00000000000000000000000000000000000000bb")
	q := NewQuery(WithAddresses(router), WithBlockRange(10, 20))

	tests := []struct {
		name string
		log  event.Log
		want bool
	}{
		{"inside", event.Log{Address: router, BlockNumber: 15}, true},
		{"lower bound", event.Log{Address: router, BlockNumber: 10}, true},
		{"upper bound", event.Log{Address: router, BlockNumber: 20}, true},
		{"before range", event.Log{Address: router, BlockNumber: 9}, false},
		{"after range", event.Log{Address: router, BlockNumber: 21}, false},
		{"foreign contract", event.Log{Address: other, BlockNumber: 15}, false},
	}
	scope := q.Scope()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scope.Match(tt.log))
		})
	}
}

func TestApply(t *testing.T) {
	logs := []event.Log{{BlockNumber: 1}, {BlockNumber: 5}, {BlockNumber: 9}}
	lo, hi := uint64(2), uint64(9)

	kept, dropped := Apply(NewBlockRangeFilter(&lo, &hi), logs)
	assert.Equal(t, 1, dropped)
	assert.Len(t, kept, 2)
	assert.Equal(t, uint64(5), kept[0].BlockNumber)
	assert.Len(t, logs, 3, "input must be left untouched")
}

func TestEmptyScopeMatchesAll(t *testing.T) {
	assert.True(t, NewQuery().Scope().Match(event.Log{BlockNumber: 7}))
}
