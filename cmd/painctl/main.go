// Command painctl is the operator tool: schema migrations, catalog checks,
// one-off sweeps, development tokens and notification tailing.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/painmgmt-api/internal/app"
	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "painctl",
		Short:        "Operate the pain management workflow engine",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(listenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cfg.Log), nil
}
