// Package admin owns the loopback HTTP surface of gammactl.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/gammactl/internal/auth"
	"github.com/danmuck/gammactl/internal/gamma"
	"github.com/danmuck/gammactl/internal/observability"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Source is the daemon state the admin API reads and mutates. Implementations
// serialize access onto the gamma event loop.
type Source interface {
	Outputs(ctx context.Context) ([]output.Info, error)
	Controls(ctx context.Context) ([]gamma.ControlInfo, error)
	RemoveOutput(ctx context.Context, name string) error
}

type Server struct {
	ID      string
	Addr    string
	Started time.Time

	src     Source
	router  *gin.Engine
	httpSrv *http.Server
	guard   auth.Validator
	log     zerolog.Logger
	timeout time.Duration
}

// New builds the router with logging, metrics and CORS middleware. A nil
// guard leaves mutating routes open.
func New(id, addr string, src Source, corsOrigins []string, guard auth.Validator) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	logger := log.Logger.With().Str("component", "admin").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		src:     src,
		router:  r,
		guard:   guard,
		log:     logger,
		timeout: 2 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"node":    s.ID,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/outputs", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		list, err := s.src.Outputs(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outputs": list})
	})

	s.router.GET("/controls", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		list, err := s.src.Controls(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"controls": list})
	})

	s.router.DELETE("/outputs/:name", s.requireToken(), func(c *gin.Context) {
		name := c.Param("name")
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		if err := s.src.RemoveOutput(ctx, name); err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, output.ErrOutputNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		s.log.Info().Str("output", name).Msg("output removed")
		c.JSON(http.StatusOK, gin.H{"status": "removed", "output": name})
	})
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.guard, c.GetHeader("Authorization")); err != nil {
			s.log.Warn().Str("path", c.FullPath()).Str("client", c.ClientIP()).Msg("admin request unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.Addr).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
