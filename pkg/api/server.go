// Package api implements the thin gin-gonic HTTP/SSE transport layer.
// HTTP/SSE transport plumbing is explicitly out of core scope (spec §1's
// "external collaborators, interfaces only"), so this package stays
// deliberately thin: routing, auth-context plumbing, and error-kind
// mapping only — every behavior it exposes lives in pkg/runlog, pkg/queue,
// and friends.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgeplatform/forge/pkg/agent"
	"github.com/forgeplatform/forge/pkg/queue"
	"github.com/forgeplatform/forge/pkg/registry"
	"github.com/forgeplatform/forge/pkg/runlog"
	"github.com/forgeplatform/forge/pkg/sandbox"
	"github.com/forgeplatform/forge/pkg/secret"
)

// PoolHealthReporter reports worker-pool health for /healthz. Satisfied by
// *pkg/queue.WorkerPool.
type PoolHealthReporter interface {
	Health() *queue.PoolHealth
}

// Server wires the gin engine and its dependencies.
type Server struct {
	engine *gin.Engine
	runs   *runlog.Store
	health PoolHealthReporter

	loop         *agent.Loop
	provisioner  *sandbox.Provisioner
	sandboxes    *sandbox.Store
	registry     *registry.Resolver
	secrets      *secret.Store
	workspaceDir string
}

// New builds a Server with its routes registered. health may be nil (e.g.
// in tests that exercise only the SSE route); loop/provisioner/sandboxes/
// registry/secrets may be nil for tests that only exercise /healthz or the
// SSE route — their routes 500 via errorHandler if hit without one wired.
func New(runs *runlog.Store, health PoolHealthReporter, loop *agent.Loop, provisioner *sandbox.Provisioner, sandboxes *sandbox.Store, registryResolver *registry.Resolver, secrets *secret.Store, workspaceDir string) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), errorHandler())

	s := &Server{
		engine:       engine,
		runs:         runs,
		health:       health,
		loop:         loop,
		provisioner:  provisioner,
		sandboxes:    sandboxes,
		registry:     registryResolver,
		secrets:      secrets,
		workspaceDir: workspaceDir,
	}
	s.routes()
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for http.Server wiring.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// routes installs errorHandler ahead of every route, since the handlers
// report failures only through c.Error and rely on it for the status code.
func (s *Server) routes() {
	s.engine.Use(errorHandler())
	s.engine.GET("/healthz", s.Healthz)
	s.engine.POST("/runs", s.CreateRun)
	s.engine.GET("/runs/:runId/events", s.StreamRunEvents)
	s.engine.POST("/packages/resolve", s.ResolvePackages)
	s.engine.PUT("/secrets/:name", s.PutSecret)
	s.engine.GET("/secrets/:name", s.GetSecret)
	s.engine.DELETE("/secrets/:name", s.DeleteSecret)
}

// requestLogger is a minimal slog-based access log, grounded on the
// teacher's own preference for structured request logging over gin's
// default text logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

// Healthz reports worker-pool health (spec §4.11's scheduling/worker
// state, supplemented per SPEC_FULL.md §5).
func (s *Server) Healthz(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, s.health.Health())
}
