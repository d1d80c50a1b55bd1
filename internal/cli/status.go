package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopdeck/loopdeck/internal/loop"
	"github.com/loopdeck/loopdeck/internal/store"
)

var statusProject string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loop history for a project",
	Long:  "List every recorded loop task for the project: status, outcome, and iteration count, oldest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tasks, err := store.New(cfg.Loop.DataDir).List(statusProject)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(tasks) == 0 {
			fmt.Fprintf(out, "no loops recorded for project %q\n", statusProject)
			return nil
		}

		for _, task := range tasks {
			fmt.Fprintln(out, renderTask(task))
		}
		return nil
	},
}

func renderTask(task *loop.Task) string {
	line := fmt.Sprintf("%s  %-16s  %d iteration(s)  %s",
		task.TaskID,
		task.Status,
		len(task.History),
		task.CreatedAt.Local().Format("2006-01-02 15:04"),
	)
	switch {
	case task.FinalStatus == loop.FinalApproved:
		line += "  " + successStyle.Render(string(task.FinalStatus))
	case task.FinalStatus == loop.FinalMaxTurnsReached:
		line += "  " + warnStyle.Render(string(task.FinalStatus))
	case task.FinalStatus == loop.FinalCriticalFailure:
		line += "  " + failStyle.Render(string(task.FinalStatus))
	}
	if task.Error != "" {
		line += "\n" + dimStyle.Render("    "+task.Error)
	}
	return line
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "default", "Project ID to list")
	rootCmd.AddCommand(statusCmd)
}
