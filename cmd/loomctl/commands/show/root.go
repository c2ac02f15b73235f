package show

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomforge/loomforge/app"
	"github.com/loomforge/loomforge/cmd/loomctl/commands"
	"github.com/loomforge/loomforge/core/eventlog"
)

var showCmdConfig = struct {
	events bool
}{}

func init() {
	showRootCmd.Flags().BoolVar(&showCmdConfig.events, "events", false, "Print the run's event timeline instead of its manifest summary")
	commands.RootCmd.AddCommand(showRootCmd)
}

var showRootCmd = &cobra.Command{
	Use:           "show <job_id>",
	Short:         "Print a run's manifest summary or event timeline",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		cfg, err := commands.AppConfig()
		if err != nil {
			return err
		}
		a, cleanup, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if showCmdConfig.events {
			path := filepath.Join(a.Runs.RunDir(jobID), "events.jsonl")
			events, err := eventlog.Read(path, eventlog.Filter{})
			if err != nil {
				return err
			}
			for _, e := range events {
				data, err := json.Marshal(e)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(data))
			}
			return nil
		}

		job, err := a.LoadRun(jobID)
		if err != nil {
			return err
		}
		manifest := job.ToManifest()
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}
