package cmd

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Loads and validates the configuration file, then prints the result as
TOML with every default filled in.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configPath)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), cfg)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
}
