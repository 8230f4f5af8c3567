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

// NewRootCmd builds the relay-indexer command.
func NewRootCmd() *cobra.Command {
	var (
		once     bool
		from, to uint64
	)

	cmd := &cobra.Command{
		Use:           "relay-indexer",
		Short:         "Journal confirmed contract events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadIndexer()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)
			reg := metrics.NewRegistry()

			ix, err := relay.NewIndexer(cmd.Context(), cfg,
				relay.WithLogger(log),
				relay.WithRegisterer(reg),
			)
			if err != nil {
				return err
			}
			defer ix.Close()

			var fromp, top *uint64
			if cmd.Flags().Changed("from") {
				fromp = &from
			}
			if cmd.Flags().Changed("to") {
				top = &to
			}

			return cli.Run(cmd.Context(), cfg.MetricsAddr, reg, func(ctx context.Context) error {
				if once {
					return ix.Once(ctx, fromp, top)
				}
				return ix.Run(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "process one block window and exit")
	cmd.Flags().Uint64Var(&from, "from", 0, "first block of the --once window")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block of the --once window")
	return cmd
}
