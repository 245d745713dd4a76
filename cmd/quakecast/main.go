// Command quakecast serves the earthquake alert overlay: it follows the
// upstream feed, pushes filtered alerts to overlay pages and webhooks, and
// optionally relays browser WebSocket connections to the feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/otiai10/quakecast/internal/config"
	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/version"
)

func main() {
	// Local development overrides; production uses real env vars.
	_ = godotenv.Load(".env.localdev")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quakecast",
		Short: "Earthquake alert overlay server",
		Long: `quakecast follows a live earthquake feed and turns qualifying alerts
into overlay notifications for streaming software, webhook deliveries and a
small JSON API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("quakecast %s (commit %s)\n", version.Version, version.CommitHash))
	root.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(),
		newRelayCmd(),
		newWatchCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the file named by --config and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quakecast %s (commit %s)\n", version.Version, version.CommitHash)
		},
	}
}
