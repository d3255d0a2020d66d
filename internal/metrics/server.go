package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusFunc returns a JSON-serialisable snapshot of the monitor state.
type StatusFunc func() any

// ReadyFunc reports whether the monitor has completed at least one cycle.
type ReadyFunc func() bool

// Server exposes health, readiness, status and Prometheus endpoints.
type Server struct {
	addr   string
	status StatusFunc
	ready  ReadyFunc
	logger zerolog.Logger
}

// NewServer builds the HTTP server; status and ready may be nil.
func NewServer(addr string, status StatusFunc, ready ReadyFunc, logger zerolog.Logger) *Server {
	return &Server{
		addr:   addr,
		status: status,
		ready:  ready,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if s.ready != nil && !s.ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/state", func(c *gin.Context) {
		if s.status == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "state not available"})
			return
		}
		c.JSON(http.StatusOK, s.status())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("HTTP 服务启动 (health + metrics)")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP 服务关闭失败")
		return err
	}
	return nil
}
