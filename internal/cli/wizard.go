package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/loop"
)

// ErrWizardCancelled is returned when the user cancels the interactive
// wizard.
var ErrWizardCancelled = errors.New("wizard cancelled by user")

const wizardWidth = 80

// runWizard collects loop options interactively when `run` is invoked
// without --task.
func runWizard(cfg *config.Config) (loop.Config, error) {
	task := ""
	maxTurnsStr := strconv.Itoa(cfg.Loop.MaxTurns)
	confirmed := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("What should the worker do?").
				Description("The task description handed to the worker agent on every iteration.").
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("a task description is required")
					}
					return nil
				}).
				Value(&task),
			huh.NewInput().
				Title("Maximum turns").
				Description("The loop stops after this many worker/reviewer iterations.").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("enter a number of at least 1")
					}
					return nil
				}).
				Value(&maxTurnsStr),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Start the loop?").
				Affirmative("Run").
				Negative("Cancel").
				Value(&confirmed),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(wizardWidth)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return loop.Config{}, ErrWizardCancelled
		}
		return loop.Config{}, err
	}
	if !confirmed {
		return loop.Config{}, ErrWizardCancelled
	}

	maxTurns, _ := strconv.Atoi(maxTurnsStr)
	return loop.Config{
		MaxTurns:        maxTurns,
		TaskDescription: task,
	}, nil
}
