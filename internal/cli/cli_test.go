package cli

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/relay/metrics"
)

func TestRunWithoutMetrics(t *testing.T) {
	called := false
	err := Run(context.Background(), "", metrics.NewRegistry(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRunReturnsLoopError(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), "", metrics.NewRegistry(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsLoopWhenServerFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// The address is taken, so the server fails and cancels the loop.
	err = Run(context.Background(), ln.Addr().String(), metrics.NewRegistry(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: listen")
}
