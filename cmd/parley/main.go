package main

import (
	"log"

	"parley/cmd/internal/app"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	// Flags override the matching PARLEY_* variable only when set.
	loadConfig := func(cmd *cobra.Command) app.Config {
		cfg := app.LoadConfig()
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		return cfg
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime and admin listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Serve(loadConfig(cmd))
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Migrate(loadConfig(cmd))
		},
	}

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Chat presence and routing server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.AddCommand(serve, migrate)
	return root
}
