package listruns

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loomforge/loomforge/app"
	"github.com/loomforge/loomforge/cmd/loomctl/commands"
	"github.com/loomforge/loomforge/common/util"
)

// taskColumnWidth bounds the TASK column so one long description can't blow out the table.
const taskColumnWidth = 40

var listCmdConfig = struct {
	limit int
}{}

func init() {
	listRunsCmd.Flags().IntVar(&listCmdConfig.limit, "limit", 20, "Maximum number of runs to list")
	commands.RootCmd.AddCommand(listRunsCmd)
}

var listRunsCmd = &cobra.Command{
	Use:           "list-runs",
	Short:         "List recent runs, most recently started first",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commands.AppConfig()
		if err != nil {
			return err
		}
		a, cleanup, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		manifests, err := a.Index.List(listCmdConfig.limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB_ID\tPROJECT\tTASK\tPROVIDER\tSTATUS\tDURATION_S\tSTARTED_AT")
		for _, m := range manifests {
			duration := "-"
			if m.DurationS != nil {
				duration = fmt.Sprintf("%.1f", *m.DurationS)
			}
			task := util.TruncateStringToMaxLength(m.TaskDescription, taskColumnWidth)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				m.JobID, m.Project, task, m.Provider, m.Status, duration, m.StartedAt.Time.Format("2006-01-02T15:04:05Z"))
		}
		return w.Flush()
	},
}
