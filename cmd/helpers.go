package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/client"
	"github.com/firefly-engineering/browserpool/internal/config"
	"github.com/firefly-engineering/browserpool/internal/health"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
)

// serverURLEnvVar overrides the server address for client commands.
const serverURLEnvVar = "BROWSERPOOL_URL"

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
)

func defaultServerURL() string {
	return client.DefaultURL
}

// loadConfig reads the config file selected by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(configPath))
}

// resolveServerURL picks the server address: --server, then
// $BROWSERPOOL_URL, then the default listen address.
func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv(serverURLEnvVar); env != "" {
		return env
	}
	return defaultServerURL()
}

// newClient returns a client for the selected server.
func newClient() *client.Client {
	return client.New(resolveServerURL())
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// remaining renders the time left until t, relative to now.
func remaining(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if !t.After(now) {
		return "expired"
	}
	return health.FormatDuration(t.Sub(now))
}

func formatStatus(status instance.Status) string {
	switch status {
	case instance.StatusIdle:
		return "○ idle"
	case instance.StatusStarting:
		return "◐ starting"
	case instance.StatusAllocated:
		return "● allocated"
	case instance.StatusCrashed:
		return "✗ crashed"
	default:
		return string(status)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// printSlot prints every field of a slot, one per line.
func printSlot(cmd *cobra.Command, slot instance.Slot) {
	now := time.Now()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Instance:    %s\n", slot.InstanceID)
	fmt.Fprintf(w, "Port:        %d\n", slot.Port)
	fmt.Fprintf(w, "Status:      %s\n", formatStatus(slot.Status))
	fmt.Fprintf(w, "Mode:        %s\n", orDash(string(slot.Mode)))
	if slot.ProcessID > 0 {
		fmt.Fprintf(w, "PID:         %d\n", slot.ProcessID)
	}
	if slot.TunnelID > 0 {
		fmt.Fprintf(w, "Tunnel PID:  %d\n", slot.TunnelID)
	}
	if slot.AgentID == "" {
		return
	}
	fmt.Fprintf(w, "Agent:       %s\n", slot.AgentID)
	fmt.Fprintf(w, "Allocated:   %s\n", slot.AllocatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Expires:     %s (%s)\n", slot.ExpiresAt.Local().Format(time.RFC3339), remaining(slot.ExpiresAt, now))
	if !slot.LastHeartbeat.IsZero() {
		fmt.Fprintf(w, "Heartbeat:   %s ago\n", health.FormatDuration(now.Sub(slot.LastHeartbeat)))
	}
}
