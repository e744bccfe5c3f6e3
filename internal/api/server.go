// Package api serves a read-only status surface for fleet daemons.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/models"
	"fleet-trader/internal/resilience"
)

// ProcessLister is the read side of the process manager.
type ProcessLister interface {
	List(ctx context.Context) ([]models.ProcessState, error)
}

// Options wires a Server. Store and Processes are optional; their routes
// are only registered when set.
type Options struct {
	Addr      string
	Registry  *resilience.Registry
	Store     fleet.Store
	Processes ProcessLister
	Logger    zerolog.Logger
}

// Server is the status HTTP server.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger zerolog.Logger
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = resilience.NewRegistry()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:   opts,
		engine: gin.New(),
		logger: logging.WithComponent(opts.Logger, "api"),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())

	s.engine.GET("/healthz", s.health)
	if opts.Store != nil {
		s.engine.GET("/fleet", s.fleetConfig)
	}
	if opts.Processes != nil {
		s.engine.GET("/processes", s.processes)
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("status api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// health answers 503 once any loop is unhealthy.
func (s *Server) health(c *gin.Context) {
	h := s.opts.Registry.System()
	code := http.StatusOK
	if h.Status == resilience.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) fleetConfig(c *gin.Context) {
	cfg, err := s.opts.Store.Load(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if ferrors.Is(err, ferrors.ErrConfigNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	data, err := fleet.Encode(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

type processView struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Memory   int64   `json:"memory"`
	CPU      float64 `json:"cpu"`
	Restarts int     `json:"restarts"`
	UptimeMS int64   `json:"uptime_ms"`
}

func (s *Server) processes(c *gin.Context) {
	procs, err := s.opts.Processes.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	out := make([]processView, 0, len(procs))
	for _, p := range procs {
		out = append(out, processView{
			Name:     p.Name,
			Status:   string(p.Status),
			Memory:   p.MemoryBytes,
			CPU:      p.CPUPercent,
			Restarts: p.RestartCount,
			UptimeMS: p.Uptime.Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"processes": out})
}
