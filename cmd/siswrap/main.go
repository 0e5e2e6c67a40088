package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/siswrap"
	"github.com/loykin/siswrap/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by the client commands
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags, &RunFlags{}),
		createStatusCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "siswrap",
		Short: "HTTP wrapper around the sisyphus QC and report scripts",
		Long: `siswrap launches the sisyphus quality control and quick report scripts
against a runfolder and tracks them by PID until they finish.

Examples:
  siswrap serve config.toml
  siswrap run report 150101_M00001_0001_000000000-A1B2C
  siswrap run qc 150101_M00001_0001_000000000-A1B2C --qc-config sisyphus_qc.xml --wait
  siswrap status report 4711`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultConfig().BaseURL, "service URL including the base path")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return root
}

// createVersionCommand prints the build version
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the siswrap version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), siswrap.Version)
			return err
		},
	}
}
