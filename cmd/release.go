package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release <instance-id>",
	Short: "Return a browser instance to the pool",
	Long: `Stops the browser behind an instance and returns its slot to idle.

With --agent the release only succeeds if that agent holds the lease.
Without it the lease is released whoever holds it. Releasing an idle
instance succeeds and does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runRelease,
}

var releaseAgent string

func init() {
	releaseCmd.Flags().StringVar(&releaseAgent, "agent", "", "Require the lease to belong to this agent")
	rootCmd.AddCommand(releaseCmd)
}

func runRelease(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := newClient().Release(context.Background(), id, releaseAgent); err != nil {
		return err
	}
	logSuccess("Released %s", id)
	return nil
}
