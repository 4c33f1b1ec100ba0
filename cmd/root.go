package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/logging"
)

var (
	verbose    bool
	jsonOutput bool
	configPath string
	serverURL  string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "browserpool",
	Short: "Shared pool of Chrome DevTools instances for agents",
	Long: `browserpool leases Chrome instances with remote debugging enabled to
automation agents.

The pool is a fixed range of debugging ports. Each slot runs either a
local headless browser or a GUI browser on the remote Windows host,
reached through an ssh tunnel. Leases expire on their own and crashed
browsers are reclaimed automatically.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, os.Stderr)
		logging.Out = cmd.OutOrStdout()
		logging.ErrOut = cmd.ErrOrStderr()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $BROWSERPOOL_CONFIG or /etc/browserpool/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Pool server URL (default $BROWSERPOOL_URL or "+defaultServerURL()+")")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "output-json", "o", false, "Print results as JSON")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
