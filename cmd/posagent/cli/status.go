package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/offline"
)

const loopbackTimeout = 2 * time.Second

// NewStatusCommand prints the queue snapshot. A running agent is asked over
// its loopback API; otherwise the queue file is read directly.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending, dropped and rejected mutation counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			snap, source, err := readStatus(ctx, cfg)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), snap, source, opts.JSON)
		},
	}
}

func readStatus(ctx context.Context, cfg *offline.AgentConfig) (offline.Snapshot, string, error) {
	var snap offline.Snapshot
	if err := loopback(ctx, cfg, http.MethodGet, "/status", &snap); err == nil {
		return snap, "agent", nil
	}
	store, err := offline.OpenStore(ctx, cfg.QueuePath)
	if err != nil {
		return snap, "", err
	}
	defer store.Close()
	if snap.Pending, err = store.Count(ctx); err != nil {
		return snap, "", err
	}
	if snap.Dropped, err = store.DroppedCount(ctx); err != nil {
		return snap, "", err
	}
	return snap, "queue file", nil
}

func printStatus(w io.Writer, snap offline.Snapshot, source string, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(snap)
	}
	fmt.Fprintf(w, "source:   %s\n", source)
	fmt.Fprintf(w, "pending:  %d\n", snap.Pending)
	fmt.Fprintf(w, "dropped:  %d\n", snap.Dropped)
	fmt.Fprintf(w, "rejected: %d\n", snap.Rejected)
	if source == "agent" {
		fmt.Fprintf(w, "online:   %t\n", snap.Online)
		if !snap.LastDrainAt.IsZero() {
			fmt.Fprintf(w, "drained:  %s\n", snap.LastDrainAt.Format(time.RFC3339))
		}
	}
	return nil
}

// loopback calls the running agent's API and decodes the JSON reply into out.
func loopback(ctx context.Context, cfg *offline.AgentConfig, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, loopbackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.ListenAddr+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("agent %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
