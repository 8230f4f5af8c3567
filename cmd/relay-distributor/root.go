package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hedeqiang/relay"
	"github.com/hedeqiang/relay/config"
	"github.com/hedeqiang/relay/internal/cli"
	"github.com/hedeqiang/relay/logger"
	"github.com/hedeqiang/relay/metrics"
)

// NewRootCmd builds the relay-distributor command.
func NewRootCmd() *cobra.Command {
	var test bool

	cmd := &cobra.Command{
		Use:           "relay-distributor",
		Short:         "Distribute rewards for journaled events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDistributor()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)
			reg := metrics.NewRegistry()

			d, err := relay.NewDistributor(cmd.Context(), cfg,
				relay.WithLogger(log),
				relay.WithRegisterer(reg),
			)
			if err != nil {
				return err
			}
			defer d.Close()

			return cli.Run(cmd.Context(), cfg.MetricsAddr, reg, func(ctx context.Context) error {
				if test {
					return d.RunOnce(ctx)
				}
				return d.Run(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&test, "test", false, "run a single pass, save state and exit")
	return cmd
}
