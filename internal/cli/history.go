package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loopdeck/loopdeck/internal/parse"
	"github.com/loopdeck/loopdeck/internal/store"
)

var historyProject string

var historyCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "Show the iteration record of one loop task",
	Long:  "Print every recorded iteration of a task: the worker summary and the reviewer's verdict, in order.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		task, err := store.New(cfg.Loop.DataDir).Load(historyProject, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTask(task))
		if len(task.History) == 0 {
			fmt.Fprintln(out, dimStyle.Render("  no iterations recorded"))
			return nil
		}
		for _, rec := range task.History {
			fmt.Fprintf(out, "\niteration %d\n", rec.Iteration)
			if rec.WorkerSummary.Note != "" {
				fmt.Fprintf(out, "  worker: %s\n", rec.WorkerSummary.Note)
			}
			if len(rec.WorkerSummary.FilesModified) > 0 {
				fmt.Fprintf(out, "  files:  %s\n", strings.Join(rec.WorkerSummary.FilesModified, ", "))
			}
			if rec.ReviewerFeedback != nil {
				fmt.Fprintf(out, "  reviewer: %s\n", renderDecision(rec.ReviewerFeedback))
			}
		}
		return nil
	},
}

func renderDecision(fb *parse.Feedback) string {
	var verdict string
	switch fb.Decision {
	case parse.DecisionApprove:
		verdict = successStyle.Render(string(fb.Decision))
	case parse.DecisionReject:
		verdict = failStyle.Render(string(fb.Decision))
	default:
		verdict = warnStyle.Render(string(fb.Decision))
	}
	if fb.Feedback != "" {
		verdict += dimStyle.Render(" " + fb.Feedback)
	}
	return verdict
}

func init() {
	historyCmd.Flags().StringVar(&historyProject, "project", "default", "Project ID the task belongs to")
	rootCmd.AddCommand(historyCmd)
}
