package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/rsecrets/cmd/rsecrets/commands"
	"github.com/systmms/rsecrets/internal/config"
	"github.com/systmms/rsecrets/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "rsecrets",
		Short: "Sync secrets from remote backends into Kubernetes Secrets",
		Long: `rsecrets watches RSecret resources and keeps a Secret of the same name
filled with values read from SSM, Secrets Manager, CloudFormation, Pulumi,
AppConfig, Vault and other backends.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(debug)
			cfg.Path = configFile
			cfg.Logger = logging.New(debug)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Operator config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRunCommand(cfg),
		commands.NewResolveCommand(cfg),
		commands.NewBackendsCommand(cfg),
	)

	return rootCmd.Execute()
}
