// Package cmd provides the CLI commands for shopgeo.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/shopgeo/internal/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	env        string
	configPath string
	envFile    string
	dataDir    string
}

// NewRootCmd creates the root command for the shopgeo CLI.
func NewRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:   "shopgeo",
		Short: "Proximity search for products in nearby shops",
		Long: `shopgeo serves product search over a CSV dataset of shops, products
and tags. Results come from the shops closest to a point, each shop
contributing its products by popularity.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("shopgeo {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.env, "env", "", "Environment name selecting config/<env>.yaml (default: $ENV or local)")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Explicit config file path")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before config")
	cmd.PersistentFlags().StringVarP(&opts.dataDir, "data", "d", "", "Dataset directory (overrides data.dir)")

	cmd.AddCommand(newServeCmd(&opts))
	cmd.AddCommand(newSearchCmd(&opts))
	cmd.AddCommand(newCheckCmd(&opts))

	return cmd
}

// Execute runs the root command with a context canceled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
