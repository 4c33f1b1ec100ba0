package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/tui"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Interactive pool dashboard",
	Long: `Shows every instance with its lease and heartbeat, refreshed from the
server's status feed. Press x to release the selected instance.`,
	Args: cobra.NoArgs,
	RunE: runTop,
}

func init() {
	rootCmd.AddCommand(topCmd)
}

func runTop(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	c := newClient()
	if _, err := c.Health(ctx); err != nil {
		return err
	}

	release := func(ctx context.Context, id string) error {
		return c.Release(ctx, id, "")
	}
	return tui.RunDashboard(ctx, c.BaseURL(), c, release)
}
