package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/server"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate <agent-id>",
	Short: "Lease a browser instance for an agent",
	Long: `Leases a browser to the given agent and prints its debugging port.

An agent holds at most one lease: asking again returns the lease it
already has, unchanged. Starting a GUI browser on the remote host can
take several seconds.`,
	Example: `  browserpool allocate crawler-1
  browserpool allocate crawler-1 --mode gui --timeout 10m --url https://example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runAllocate,
}

var (
	allocateURL     string
	allocateTimeout time.Duration
	allocateMode    string
)

func init() {
	allocateCmd.Flags().StringVar(&allocateURL, "url", "", "Page to open (default from config)")
	allocateCmd.Flags().DurationVar(&allocateTimeout, "timeout", 0, "Lease duration (default from config)")
	allocateCmd.Flags().StringVar(&allocateMode, "mode", "", "Launch mode: headless or gui (default from config)")
	rootCmd.AddCommand(allocateCmd)
}

func runAllocate(cmd *cobra.Command, args []string) error {
	req := server.AllocateRequest{
		AgentID: args[0],
		URL:     allocateURL,
	}
	if allocateTimeout < 0 || (allocateTimeout > 0 && allocateTimeout < time.Second) {
		return poolerrors.ValidationError(fmt.Sprintf("--timeout must be at least 1s, got %s", allocateTimeout))
	}
	if allocateTimeout%time.Second != 0 {
		return poolerrors.ValidationError(fmt.Sprintf("--timeout must be a whole number of seconds, got %s", allocateTimeout))
	}
	req.TimeoutSeconds = int(allocateTimeout / time.Second)
	if allocateMode != "" {
		mode, err := instance.ParseMode(allocateMode)
		if err != nil {
			return poolerrors.ValidationError(err.Error())
		}
		req.Mode = string(mode)
	}

	lease, err := newClient().Allocate(context.Background(), req)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), lease)
	}
	logSuccess("Allocated %s to %s", lease.InstanceID, lease.AgentID)
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "  Debug port: %d\n", lease.DebugPort)
	fmt.Fprintf(w, "  DevTools:   http://127.0.0.1:%d/json/version\n", lease.DebugPort)
	fmt.Fprintf(w, "  Mode:       %s\n", lease.Mode)
	fmt.Fprintf(w, "  Expires:    %s (%s)\n", lease.ExpiresAt.Local().Format(time.RFC3339), remaining(lease.ExpiresAt, time.Now()))
	return nil
}
