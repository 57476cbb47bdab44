package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/offline"
)

// NewRunCommand starts the agent in the foreground.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent: loopback API, connectivity monitor and replayer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := newLogger(cfg)
			sink, closeSink := newSink(ctx, cfg, logger)
			defer closeSink()

			agent, err := offline.NewAgent(ctx, cfg, sink, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := agent.Close(); err != nil {
					logger.Warn("close queue", slog.Any("error", err))
				}
			}()
			if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
