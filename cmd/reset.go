package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/app"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop leftover browsers and reset every slot to idle",
	Long: `Runs the startup reconciliation against the database without serving:
leftover tunnels are killed, every slot that is not idle has its browser
stopped and is reset to idle, and slots outside the configured port
range are removed.

Meant for use while the server is stopped. A running server keeps its own
view of live browsers and is not told about the reset.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	probe, cancel := context.WithTimeout(ctx, 2*time.Second)
	if _, err := newClient().Health(probe); err == nil {
		logWarning("A pool server is answering at %s; it will not see this reset", resolveServerURL())
	}
	cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Pool.Initialize(ctx); err != nil {
		return err
	}
	slots, err := a.Pool.List(ctx)
	if err != nil {
		return err
	}

	logSuccess("Reset %d slots (ports %s) in %s", len(slots), cfg.PortRange(), a.Store.Path())
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), slots)
	}
	return writeSlotTable(cmd, slots, time.Now())
}
