// Package server is the per-rank admin surface: health, readiness,
// Prometheus metrics and read-only views of the last published step.
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-graphviz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/syncgraph/internal/auth"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/output"
	"github.com/danmuck/syncgraph/internal/sim"
)

const version = "0.1.0"

type view struct {
	status   sim.Status
	snapshot graph.Snapshot
}

type Server struct {
	Rank    int
	Addr    string
	Started time.Time

	router *gin.Engine
	guard  auth.Validator
	latest atomic.Pointer[view]
}

var _ sim.Publisher = (*Server)(nil)

func New(rank int, addr string, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(rank))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		Rank:    rank,
		Addr:    addr,
		Started: time.Now(),
		router:  r,
	}
}

// RequireToken guards the data views. Health, readiness and metrics stay
// open. Must be called before RegisterRoutes.
func (s *Server) RequireToken(v auth.Validator) {
	s.guard = v
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Publish swaps in the latest step. Safe to call from the simulation
// goroutine while handlers are serving.
func (s *Server) Publish(st sim.Status, snap graph.Snapshot) {
	s.latest.Store(&view{status: st, snapshot: snap})
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"rank":    s.Rank,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.latest.Load() != nil
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"rank":    s.Rank,
			"version": version,
		})
	})

	views := s.router.Group("/")
	if s.guard != nil {
		views.Use(auth.Bearer(s.guard))
	}

	views.GET("/status", s.withView(func(c *gin.Context, v *view) {
		c.JSON(http.StatusOK, v.status)
	}))

	views.GET("/snapshot", s.withView(func(c *gin.Context, v *view) {
		c.JSON(http.StatusOK, v.snapshot)
	}))

	views.GET("/locations", s.withView(func(c *gin.Context, v *view) {
		c.JSON(http.StatusOK, v.snapshot.Locations)
	}))

	views.GET("/graph", s.withView(func(c *gin.Context, v *view) {
		format, err := output.ParseFormat(c.DefaultQuery("format", "dot"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var buf bytes.Buffer
		if err := output.Render(v.snapshot, format, &buf); err != nil {
			logging.Errf("server.Server.graph rank=%d err=%v", s.Rank, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("X-Sim-Step", strconv.FormatUint(v.status.Step, 10))
		c.Data(http.StatusOK, contentType(format), buf.Bytes())
	}))
}

func (s *Server) withView(fn func(*gin.Context, *view)) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := s.latest.Load()
		if v == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no step published yet"})
			return
		}
		fn(c, v)
	}
}

// Serve registers the routes and blocks until ctx ends or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logging.Infof("server.Server.Serve rank=%d addr=%s", s.Rank, s.Addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func contentType(f graphviz.Format) string {
	switch f {
	case graphviz.SVG:
		return "image/svg+xml"
	case graphviz.PNG:
		return "image/png"
	case graphviz.JPG:
		return "image/jpeg"
	default:
		return "text/vnd.graphviz"
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
