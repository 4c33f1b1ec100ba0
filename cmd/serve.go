package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/browserpool/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool server",
	Long: `Runs the pool server in the foreground until interrupted.

On start every slot left over from a previous run is stopped and reset
to idle. On SIGINT or SIGTERM the server stops accepting requests and
every running browser, local and remote, is stopped before exit.

Can be wrapped in a systemd service for persistent operation.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logInfo("Serving %d slots (ports %s) on %s", cfg.Capacity(), cfg.PortRange(), cfg.Server.Listen)
	if err := a.Run(ctx); err != nil {
		return err
	}
	logInfo("Pool server stopped")
	return nil
}
