package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/server"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ps"},
	Short:   "List all browser instances",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	slots, err := newClient().List(context.Background())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), server.ListResponse{Instances: slots})
	}
	return writeSlotTable(cmd, slots, time.Now())
}

func writeSlotTable(cmd *cobra.Command, slots []instance.Slot, now time.Time) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tPORT\tSTATUS\tMODE\tAGENT\tEXPIRES IN")
	fmt.Fprintln(w, "--------\t----\t------\t----\t-----\t----------")

	for _, s := range slots {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.InstanceID, s.Port, formatStatus(s.Status), orDash(string(s.Mode)), orDash(s.AgentID), remaining(s.ExpiresAt, now))
	}

	return w.Flush()
}
