package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show the status of a browser instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	slot, err := newClient().Status(context.Background(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), slot)
	}
	printSlot(cmd, slot)
	return nil
}
