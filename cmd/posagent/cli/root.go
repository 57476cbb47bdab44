package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/events"
	"github.com/odyssey-erp/odyssey-pos/internal/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	JSON    bool

	// loadConfig is replaced in tests.
	loadConfig func() (*offline.AgentConfig, error)
}

// NewRootCommand creates the posagent command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{loadConfig: offline.LoadAgentConfig})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "posagent",
		Short:         "Point-of-sale device agent with an offline mutation queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.EnvFile == "" {
				_ = godotenv.Load()
				return nil
			}
			return godotenv.Load(opts.EnvFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "load environment from this file (default .env when present)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print machine-readable output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	return cmd
}

func newLogger(cfg *offline.AgentConfig) *slog.Logger {
	return app.NewLoggerTo(os.Stderr, cfg.LogFormat)
}

// newSink always logs and also publishes to redis when an address is set.
// A redis outage at startup degrades to log-only.
func newSink(ctx context.Context, cfg *offline.AgentConfig, logger *slog.Logger) (events.Sink, func()) {
	logSink := events.NewLogSink(logger)
	if cfg.RedisAddr == "" {
		return logSink, func() {}
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, events go to log only", slog.Any("error", err))
		return logSink, func() {}
	}
	return events.Multi{logSink, events.NewRedisSink(client, events.DefaultChannel)}, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
}
