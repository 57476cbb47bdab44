package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/offline"
)

// NewPruneCommand drops entries older than the retention window. Run it while
// the agent is stopped.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop queued mutations older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			retention := cfg.Retention
			if olderThan > 0 {
				retention = olderThan
			}
			ctx := cmd.Context()
			store, err := offline.OpenStore(ctx, cfg.QueuePath)
			if err != nil {
				return err
			}
			defer store.Close()
			dropped, err := store.PruneOlderThan(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			remaining, err := store.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped=%d remaining=%d\n", dropped, remaining)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override POSAGENT_RETENTION")
	return cmd
}
