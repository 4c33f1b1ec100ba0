package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <instance-id>",
	Short: "Report that an agent is still using its instance",
	Long: `Records a heartbeat for the agent's lease.

Heartbeats are informational: they never extend the lease. With --every
the heartbeat repeats until interrupted or rejected. An unreachable
server is retried on the next tick.`,
	Args: cobra.ExactArgs(1),
	RunE: runHeartbeat,
}

var (
	heartbeatAgent string
	heartbeatEvery time.Duration
)

func init() {
	heartbeatCmd.Flags().StringVar(&heartbeatAgent, "agent", "", "Agent holding the lease (required)")
	heartbeatCmd.Flags().DurationVar(&heartbeatEvery, "every", 0, "Repeat at this interval")
	heartbeatCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(heartbeatCmd)
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	id := args[0]
	c := newClient()

	if heartbeatEvery <= 0 {
		if err := c.Heartbeat(context.Background(), id, heartbeatAgent); err != nil {
			return err
		}
		logSuccess("Heartbeat recorded for %s", id)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		err := c.Heartbeat(ctx, id, heartbeatAgent)
		switch {
		case ctx.Err() != nil:
			return nil
		case poolerrors.IsKind(err, poolerrors.KindUnavailable):
			logWarning("Server unreachable, retrying in %s", heartbeatEvery)
		case err != nil:
			return err
		default:
			logInfo("Heartbeat recorded for %s", id)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
