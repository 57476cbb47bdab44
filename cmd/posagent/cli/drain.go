package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/offline"
)

// NewDrainCommand replays the queue now. A running agent is kicked; otherwise
// a single pass runs in this process.
func NewDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued mutations immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := loopback(ctx, cfg, http.MethodPost, "/sync", nil); err == nil {
				fmt.Fprintln(out, "agent kicked; replay runs in the background")
				return nil
			}

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
			res, err := agent.Replayer.Drain(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if opts.JSON {
				return json.NewEncoder(out).Encode(res)
			}
			fmt.Fprintf(out, "acked=%d rejected=%d dropped=%d remaining=%d halted=%t\n",
				res.Acked, res.Rejected, res.Dropped, res.Remaining, res.Halted)
			return nil
		},
	}
}
