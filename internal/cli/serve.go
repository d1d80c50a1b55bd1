package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/logging"
	"github.com/loopdeck/loopdeck/internal/loop"
	"github.com/loopdeck/loopdeck/internal/server"
	"github.com/loopdeck/loopdeck/internal/session"
	"github.com/loopdeck/loopdeck/internal/store"
	"github.com/loopdeck/loopdeck/internal/transport"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the panel API and websocket server",
	Long: `Start the loopdeck server: a JSON API for starting, pausing, resuming,
stopping, and deleting loops, plus a websocket endpoint that streams loop
progress events to the panel UI.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if vr := config.Validate(cfg); vr.HasErrors() {
			for _, issue := range vr.Errors() {
				fmt.Fprintf(cmd.ErrOrStderr(), "config error: %s: %s\n", issue.Field, issue.Message)
			}
			return fmt.Errorf("invalid configuration")
		}

		logger := logging.New("server")
		hub := transport.NewHub()
		ctrl := loop.NewController(
			cfg,
			loop.NewRegistry(store.New(cfg.Loop.DataDir)),
			session.NewProcManager(logging.New("session")),
			hub,
			logging.New("loop"),
		)
		defer ctrl.Shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return server.New(cfg, ctrl, hub, logger).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides [server].addr)")
	rootCmd.AddCommand(serveCmd)
}
