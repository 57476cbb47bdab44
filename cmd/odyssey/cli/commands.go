package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewJobsCommand builds the `jobs` subcommand tree. redisAddr is resolved
// lazily so configuration is read only when a job command runs.
func NewJobsCommand(redisAddr func() (string, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	var storeID int64
	trigger := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job now (inventory:reconcile, idempotency:cleanup)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0], storeID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().Int64Var(&storeID, "store", 0, "limit reconcile to one store")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
			return nil
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}

func openJobsCLI(redisAddr func() (string, error)) (*JobsCLI, error) {
	addr, err := redisAddr()
	if err != nil {
		return nil, err
	}
	return NewJobsCLI(addr)
}
