package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/siswrap/pkg/client"
)

// RunFlags holds flags for the run command
type RunFlags struct {
	QCConfigFile       string
	SisyphusConfigFile string
	Wait               bool
	PollInterval       time.Duration
}

func newClient(f *GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <qc|report> <runfolder>",
		Short: "Launch a QC or report job on a running service",
		Long: `Launch a job against a runfolder below the service's runfolder_root.
The qc variant requires --qc-config; both variants accept --sisyphus-config
to replace the runfolder's sisyphus.yml before the script starts.

Examples:
  siswrap run report 150101_M00001_0001_000000000-A1B2C
  siswrap run qc 150101_M00001_0001_000000000-A1B2C --qc-config=sisyphus_qc.xml --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.RunRequest{Target: args[1]}
			var err error
			if req.QCConfig, err = readOptional(runFlags.QCConfigFile); err != nil {
				return err
			}
			if req.SisyphusConfig, err = readOptional(runFlags.SisyphusConfigFile); err != nil {
				return err
			}
			c := newClient(globalFlags)
			resp, err := c.Run(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			if !runFlags.Wait {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			st, err := c.Wait(cmd.Context(), args[0], resp.PID, runFlags.PollInterval)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if st.State == client.StateError {
				return fmt.Errorf("job %d failed: %s", st.PID, st.Msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlags.QCConfigFile, "qc-config", "", "file with the QC XML configuration (required for qc)")
	cmd.Flags().StringVar(&runFlags.SisyphusConfigFile, "sisyphus-config", "", "file with a sisyphus.yml replacement")
	cmd.Flags().BoolVar(&runFlags.Wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&runFlags.PollInterval, "poll-interval", 2*time.Second, "poll interval with --wait")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <qc|report> [pid]",
		Short: "Show one job or list all jobs of a variant",
		Long: `Show the state of one job, or list every job of a variant when no pid is given.
Note that a finished job is forgotten by the service once its final state
has been reported.

Examples:
  siswrap status report
  siswrap status qc 4711`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(globalFlags)
			if len(args) == 1 {
				list, err := c.StatusAll(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			}
			pid, err := strconv.Atoi(args[1])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[1])
			}
			st, err := c.Status(cmd.Context(), args[0], pid)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func readOptional(path string) (*string, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s := string(b)
	return &s, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
