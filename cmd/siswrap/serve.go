package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/siswrap"
)

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the siswrap HTTP service",
		Long: `Start the siswrap HTTP service. The config file holds the [app] script
settings and the optional [server], [log], [jobs], [metrics] and [history] tables.
Every key can be overridden with SISWRAP_* environment variables.

Examples:
  siswrap serve config.toml
  siswrap serve --config=/etc/siswrap/app.config
  SISWRAP_SERVER_PORT=8080 siswrap serve config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	if configPath == "" {
		return errors.New("config file required for serve command. Use --config=config.toml or provide as argument")
	}
	cfg, err := siswrap.LoadConfig(configPath)
	if err != nil {
		return err
	}
	svc, err := siswrap.NewService(cfg, siswrap.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
