package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/logging"
	"github.com/loopdeck/loopdeck/internal/loop"
	"github.com/loopdeck/loopdeck/internal/session"
	"github.com/loopdeck/loopdeck/internal/store"
	"github.com/loopdeck/loopdeck/internal/transport"
)

var (
	runProject       string
	runTask          string
	runMaxTurns      int
	runWorkerModel   string
	runReviewerModel string
)

// Styles for the streamed loop output.
var (
	phaseStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one loop in the terminal",
	Long: `Run a single worker/reviewer loop without the server, streaming progress
to the terminal. When --task is omitted, an interactive wizard collects the
task description and loop options.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if vr := config.Validate(cfg); vr.HasErrors() {
			for _, issue := range vr.Errors() {
				fmt.Fprintf(cmd.ErrOrStderr(), "config error: %s: %s\n", issue.Field, issue.Message)
			}
			return fmt.Errorf("invalid configuration")
		}

		loopCfg := loop.Config{
			MaxTurns:        runMaxTurns,
			TaskDescription: runTask,
			WorkerModel:     runWorkerModel,
			ReviewerModel:   runReviewerModel,
		}
		if runTask == "" {
			loopCfg, err = runWizard(cfg)
			if err != nil {
				return err
			}
		}

		hub := transport.NewHub()
		ctrl := loop.NewController(
			cfg,
			loop.NewRegistry(store.New(cfg.Loop.DataDir)),
			session.NewProcManager(logging.New("session")),
			hub,
			logging.New("loop"),
		)
		defer ctrl.Shutdown()

		events, cancel := hub.Subscribe()
		defer cancel()

		taskID, err := ctrl.Start(runProject, loopCfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("task "+taskID))

		return streamLoop(cmd, events, taskID)
	},
}

// streamLoop prints hub events for the task until its complete event.
func streamLoop(cmd *cobra.Command, events <-chan transport.Event, taskID string) error {
	out := cmd.OutOrStdout()
	for ev := range events {
		if ev.TaskID != taskID {
			continue
		}
		switch ev.Type {
		case transport.EventIteration:
			fmt.Fprintln(out, phaseStyle.Render(fmt.Sprintf("── iteration %d ──", ev.Iteration)))

		case transport.EventStatus:
			fmt.Fprintln(out, dimStyle.Render("status: "+ev.Status))

		case transport.EventOutput:
			fmt.Fprint(out, ev.Content)
			if !strings.HasSuffix(ev.Content, "\n") {
				fmt.Fprintln(out)
			}

		case transport.EventWorkerComplete:
			if ev.Summary != nil {
				fmt.Fprintln(out, phaseStyle.Render("worker: ")+ev.Summary.Note)
				for _, f := range ev.Summary.FilesModified {
					fmt.Fprintln(out, dimStyle.Render("  modified "+f))
				}
			}

		case transport.EventReviewerComplete:
			if ev.Feedback != nil {
				fmt.Fprintln(out, phaseStyle.Render("reviewer: ")+string(ev.Feedback.Decision))
				if ev.Feedback.Feedback != "" {
					fmt.Fprintln(out, "  "+ev.Feedback.Feedback)
				}
			}

		case transport.EventWarning:
			fmt.Fprintln(out, warnStyle.Render("warning: "+ev.Message))

		case transport.EventError:
			fmt.Fprintln(out, failStyle.Render("error: "+ev.Error))

		case transport.EventComplete:
			if ev.FinalStatus == string(loop.FinalCriticalFailure) {
				fmt.Fprintln(out, failStyle.Render("loop failed: "+ev.Error))
				return fmt.Errorf("loop ended with %s", ev.FinalStatus)
			}
			fmt.Fprintln(out, successStyle.Render("loop finished: "+ev.FinalStatus))
			return nil
		}
	}
	return fmt.Errorf("event stream closed before the loop finished")
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "default", "Project ID the loop belongs to")
	runCmd.Flags().StringVar(&runTask, "task", "", "Task description for the worker (omit for the interactive wizard)")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Iteration bound (0 uses the configured default)")
	runCmd.Flags().StringVar(&runWorkerModel, "worker-model", "", "Model override for the worker agent")
	runCmd.Flags().StringVar(&runReviewerModel, "reviewer-model", "", "Model override for the reviewer agent")
	rootCmd.AddCommand(runCmd)
}
