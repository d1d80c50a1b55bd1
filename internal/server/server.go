// Package server exposes the loop controller over HTTP for the panel UI:
// a JSON API for loop lifecycle operations and a websocket endpoint
// streaming progress events.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/loopdeck/loopdeck/internal/buildinfo"
	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/loop"
	"github.com/loopdeck/loopdeck/internal/transport"
)

// Server is the panel HTTP server.
type Server struct {
	cfg    *config.Config
	ctrl   *loop.Controller
	relay  *transport.WSRelay
	logger *log.Logger

	engine *gin.Engine
	http   *http.Server
}

// New assembles the server: routes, CORS, and the websocket relay.
// The logger may be nil.
func New(cfg *config.Config, ctrl *loop.Controller, hub *transport.Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		relay:  transport.NewWSRelay(hub, originChecker(cfg.Server.AllowedOrigins), logger),
		logger: logger,
		engine: engine,
	}
	s.routes()

	s.http = &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/api/health", s.handleHealth)
	s.engine.GET("/ws", gin.WrapH(s.relay))

	api := s.engine.Group("/api/projects/:project")
	api.POST("/loops", s.handleStart)
	api.GET("/loops", s.handleHistory)
	api.GET("/loops/:task", s.handleStatus)
	api.POST("/loops/:task/pause", s.handlePause)
	api.POST("/loops/:task/resume", s.handleResume)
	api.POST("/loops/:task/stop", s.handleStop)
	api.DELETE("/loops/:task", s.handleDelete)
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("panel server listening", "addr", s.http.Addr, "version", buildinfo.GetInfo().Version)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// originChecker builds the websocket origin check. An empty allowlist
// accepts any origin, matching the CORS behavior above.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
