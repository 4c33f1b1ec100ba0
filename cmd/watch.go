package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/server"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live status feed",
	Long: `Prints the server's status feed until interrupted: a full snapshot of
every instance each stream interval. Use --output-json for the raw NDJSON
lines.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	return newClient().Stream(ctx, func(u server.StatusUpdate) error {
		if outputJSON {
			return enc.Encode(u)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", u.Timestamp.Local().Format(time.RFC3339))
		return writeSlotTable(cmd, u.Instances, u.Timestamp)
	})
}
