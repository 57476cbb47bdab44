package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerRejectsUnknownJob(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Trigger(context.Background(), "mail:send", 0)
	require.ErrorContains(t, err, "unsupported job")
}

func TestNilCLIIsNotConfigured(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), "inventory:reconcile", 0)
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}

func TestJobsCommandSurfacesConfigError(t *testing.T) {
	boom := errors.New("no config")
	cmd := NewJobsCommand(func() (string, error) { return "", boom })
	cmd.SetArgs([]string{"stats"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	require.ErrorIs(t, cmd.Execute(), boom)
}
