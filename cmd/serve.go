package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gsc-tracker/internal/server"
)

// buildApp is replaced in tests.
var buildApp = server.Build

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the web application and background fetch workers",
		Long: `Starts the HTTP server, the Search Console fetch workers and any
configured sinks. The process drains in-flight work on SIGINT or SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return app.Run(cmd.Context())
}
