package opsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthChecker reports whether a dependency this process relies on is
// reachable. Server calls every registered checker on each /healthz request.
type HealthChecker func(ctx context.Context) error

// Server is the ops-only HTTP surface: /healthz, /metrics, /ws/events. It
// never exposes the CRUD task façade — that is an external collaborator's
// responsibility.
type Server struct {
	engine *gin.Engine
	hub    *Hub
	log    zerolog.Logger
	checks map[string]HealthChecker
}

// New constructs a Server with hub wired to /ws/events and Prometheus's
// default registry wired to /metrics.
func New(hub *Hub, log zerolog.Logger, checks map[string]HealthChecker) *Server {
	s := &Server{
		hub:    hub,
		log:    log.With().Str("component", "opsapi").Logger(),
		checks: checks,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/events", s.serveWS)
	s.engine = r
	return s
}

// Engine exposes the underlying *gin.Engine, e.g. for an *http.Server.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) serveWS(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request)
}

// healthz runs every registered HealthChecker under one shared 2s deadline
// and reports 200 only if all of them succeed.
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.log.Warn().Interface("failures", failures).Msg("healthz check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
