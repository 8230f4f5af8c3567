// Package cli holds the process plumbing shared by the relay commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hedeqiang/relay/internal/syncutil"
	"github.com/hedeqiang/relay/metrics"
)

// Execute runs root and exits non-zero on error.
func Execute(root *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// Run calls fn in the foreground. When addr is set the metrics server
// runs beside it; a server failure stops fn, and fn returning stops the
// server.
func Run(ctx context.Context, addr string, g prometheus.Gatherer, fn func(ctx context.Context) error) error {
	group := syncutil.NewGroup(ctx)
	if addr != "" {
		group.Go(func(ctx context.Context) error {
			return metrics.Serve(ctx, addr, g)
		})
	}
	runErr := fn(group.Context())
	return errors.Join(runErr, group.Stop())
}
