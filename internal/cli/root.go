// Package cli wires the loopdeck command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/logging"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose bool
	flagQuiet   bool
	flagConfig  string
	flagDir     string
	flagNoColor bool
)

// rootCmd is the base command for loopdeck.
var rootCmd = &cobra.Command{
	Use:   "loopdeck",
	Short: "Bounded worker/reviewer loops for AI coding agents",
	Long: `Loopdeck runs AI coding agents in a bounded improvement loop: a worker
agent implements a task, a reviewer agent judges the result, and the loop
repeats with folded-in feedback until the reviewer approves or the turn
budget runs out. The serve command exposes the loop over HTTP and
websocket for the panel UI; run drives a single loop in the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check env vars for flags not explicitly set on command line.
		if !cmd.Flags().Changed("verbose") && os.Getenv("LOOPDECK_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("LOOPDECK_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Flags().Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("LOOPDECK_NO_COLOR") != "") {
			flagNoColor = true
		}

		jsonFormat := os.Getenv("LOOPDECK_LOG_FORMAT") == "json"
		logging.Setup(flagVerbose, flagQuiet, jsonFormat)

		if flagNoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		if flagDir != "" {
			if err := os.Chdir(flagDir); err != nil {
				return fmt.Errorf("changing directory to %s: %w", flagDir, err)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: LOOPDECK_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: LOOPDECK_QUIET)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to loopdeck.toml config file")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Override working directory")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: LOOPDECK_NO_COLOR, NO_COLOR)")
}

// loadConfig resolves the configuration: an explicit --config path wins,
// otherwise the config file is searched upward from the current directory,
// falling back to defaults when none exists.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		cfg, _, err := config.LoadFromFile(flagConfig)
		return cfg, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	return config.Load(wd)
}

// NewRootCmd returns a fresh instance of the root command for external
// generators (shell completions, man pages). It carries the same persistent
// flags as the global rootCmd but binds them to local values so the
// generated docs never touch package state.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           rootCmd.Use,
		Short:         rootCmd.Short,
		Long:          rootCmd.Long,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose (debug) output (env: LOOPDECK_VERBOSE)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors (env: LOOPDECK_QUIET)")
	cmd.PersistentFlags().String("config", "", "Path to loopdeck.toml config file")
	cmd.PersistentFlags().String("dir", "", "Override working directory")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output (env: LOOPDECK_NO_COLOR, NO_COLOR)")

	for _, child := range rootCmd.Commands() {
		cmd.AddCommand(child)
	}
	return cmd
}

// Execute runs the root command and returns the exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
