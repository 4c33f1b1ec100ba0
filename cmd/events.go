package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/audit"
	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
)

var eventsCmd = &cobra.Command{
	Use:   "events <instance-id>",
	Short: "Display the lifecycle events of an instance",
	Long: `Reads the audit log kept under the data directory: allocations,
releases, expiries, crashes and failed launches of one instance.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	id := args[0]
	if _, ok := instance.PortFromID(id); !ok {
		return poolerrors.ValidationError(fmt.Sprintf("%q is not an instance id (want chrome-<port>)", id))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	auditLogger := audit.NewLogger(cfg.Paths().AuditDir)
	events, err := auditLogger.Events(id)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(events) == 0 {
		logInfo("No events found for instance %s", id)
		return nil
	}

	w := cmd.OutOrStdout()
	for _, e := range events {
		if outputJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			fmt.Fprintln(w, string(data))
			continue
		}

		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("[%s] %-13s %s", ts, e.Type, e.Instance)
		if e.Agent != "" {
			line += " agent=" + e.Agent
		}
		if e.Details != "" {
			line += " (" + e.Details + ")"
		}
		fmt.Fprintln(w, line)
	}

	return nil
}
