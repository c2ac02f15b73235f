package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomforge/loomforge/app"
	"github.com/loomforge/loomforge/cmd/loomctl/cli"
	"github.com/loomforge/loomforge/cmd/loomctl/commands"
	"github.com/loomforge/loomforge/cmd/loomctl/specfile"
	"github.com/loomforge/loomforge/core/models"
)

var runCmdConfig = struct {
	resume bool
	jobID  string
}{}

func init() {
	runRootCmd.Flags().BoolVar(&runCmdConfig.resume, "resume", false,
		"Resume an incomplete run instead of starting a new one")
	runRootCmd.Flags().StringVar(&runCmdConfig.jobID, "job-id", "",
		"Run identifier to resume; required with --resume, since the spec file carries no job id")
	commands.RootCmd.AddCommand(runRootCmd)
}

var runRootCmd = &cobra.Command{
	Use:           "run <spec-file>",
	Short:         "Load a job spec, create or resume a run, and execute it",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := commands.AppConfig()
		if err != nil {
			return err
		}

		spec, err := specfile.Load(args[0])
		if err != nil {
			return err
		}
		if spec.Provider != "" {
			cfg.Provider = spec.Provider // the spec file's provider wins over --provider and PROVIDER
		}

		a, cleanup, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		var job *models.Job
		if runCmdConfig.resume {
			jobID := runCmdConfig.jobID
			if jobID == "" {
				return fmt.Errorf("--resume requires --job-id")
			}
			job, err = a.LoadRun(jobID)
			if err != nil {
				return err
			}
			if err := a.PrepareResume(job); err != nil {
				return err
			}
		} else {
			job, err = a.CreateRun(spec)
			if err != nil {
				return err
			}
		}

		var spinners *stepSpinnerManager
		if !commands.Global.JSON {
			spinners = newStepSpinnerManager()
		}

		run, err := a.Prepare(job, spinners.observe)
		if err != nil {
			return err
		}
		defer run.Close()

		spinners.start()
		status, execErr := run.Executor.Execute(ctx, run.Context)
		spinners.stop()

		if sealErr := a.Runs.Seal(job, status); sealErr != nil {
			cli.Stderr.Printf("warning: error sealing manifest: %v", sealErr)
		}
		if execErr != nil {
			return execErr
		}

		if commands.Global.JSON {
			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(data))
		} else {
			fmt.Fprintf(os.Stdout, "run %s: %s\n", job.JobID, status)
		}

		switch status {
		case models.JobStatusSucceeded:
			os.Exit(cli.ExitSucceeded)
		case models.JobStatusCancelled:
			os.Exit(cli.ExitCancelled)
		default:
			os.Exit(cli.ExitFailed)
		}
		return nil
	},
}
