package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/relay/event"
)

func logAt(block uint64, tx string, index uint) event.Log {
	return event.Log{BlockNumber: block, TxHash: event.MustHexToHash(tx), LogIndex: index}
}

func counting(calls *int, err error) Handler {
	return func(context.Context, event.Log) (Outcome, error) {
		*calls++
		return Journaled, err
	}
}

func TestGateConfirmation(t *testing.T) {
	g := NewGate(5)
	g.Advance(100, 90)
	calls := 0
	h := g.Wrap(counting(&calls, nil))

	tests := []struct {
		block uint64
		want  Outcome
	}{
		{95, Journaled},
		{96, Withheld},
		{100, Withheld},
		{101, Withheld},
		{90, Journaled},
	}
	for i, tt := range tests {
		out, err := h(context.Background(), logAt(tt.block, "0x01", uint(i)))
		require.NoError(t, err)
		assert.Equal(t, tt.want, out, "block %d", tt.block)
	}
	assert.Equal(t, 2, calls)
	assert.False(t, g.Confirmed(96))
	assert.True(t, g.Confirmed(95))
}

func TestGateRemoved(t *testing.T) {
	g := NewGate(0)
	g.Advance(10, 0)
	calls := 0
	l := logAt(5, "0x01", 0)
	l.Removed = true

	out, err := g.Wrap(counting(&calls, nil))(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, Withheld, out)
	assert.Zero(t, calls)
}

func TestGateDedup(t *testing.T) {
	g := NewGate(1)
	g.Advance(50, 0)
	calls := 0
	h := g.Wrap(counting(&calls, nil))

	l := logAt(40, "0xaa", 3)
	out, _ := h(context.Background(), l)
	assert.Equal(t, Journaled, out)
	out, _ = h(context.Background(), l)
	assert.Equal(t, Duplicate, out)
	assert.Equal(t, 1, calls)

	other := logAt(40, "0xaa", 4)
	out, _ = h(context.Background(), other)
	assert.Equal(t, Journaled, out, "same tx, different index is a new key")
}

func TestGateRemembersOnlySuccess(t *testing.T) {
	g := NewGate(0)
	g.Advance(50, 0)
	boom := errors.New("disk full")
	calls := 0
	l := logAt(40, "0xaa", 0)

	_, err := g.Wrap(counting(&calls, boom))(context.Background(), l)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, g.Len())

	out, err := g.Wrap(counting(&calls, nil))(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, Journaled, out)
}

func TestGatePrune(t *testing.T) {
	g := NewGate(0)
	g.Advance(100, 0)
	calls := 0
	h := g.Wrap(counting(&calls, nil))
	for i, block := range []uint64{10, 20, 30} {
		_, err := h(context.Background(), logAt(block, "0x01", uint(i)))
		require.NoError(t, err)
	}
	require.Equal(t, 3, g.Len())

	g.Advance(120, 21)
	assert.Equal(t, 1, g.Len())
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return Func(func(next Handler) Handler {
			return func(ctx context.Context, l event.Log) (Outcome, error) {
				order = append(order, name)
				return next(ctx, l)
			}
		})
	}
	calls := 0
	h := Chain(counting(&calls, nil), mw("outer"), mw("inner"))
	_, err := h(context.Background(), event.Log{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestMetricsAndLogger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	g := NewGate(0)
	g.Advance(10, 0)
	calls := 0
	h := Chain(counting(&calls, nil), m.For("DonationRouter"), NewLogger(zerolog.Nop()), g)

	l := logAt(5, "0x01", 0)
	_, _ = h(context.Background(), l)
	_, _ = h(context.Background(), l)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("DonationRouter", "journaled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("DonationRouter", "duplicate")))

	failing := Chain(counting(&calls, errors.New("x")), m.For("FlagRegistry"))
	_, err = failing(context.Background(), l)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("FlagRegistry")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "double registration")
}
