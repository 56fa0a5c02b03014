// Package api exposes the engine control plane over HTTP: status, positions,
// orders, signal injection, and the engine start/stop/emergency-stop levers.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"polyagent/internal/core"
	"polyagent/internal/events"
	"polyagent/internal/lifecycle"
	"polyagent/internal/orchestrator"
	"polyagent/pkg/db"
)

// Server wires HTTP endpoints around the orchestrator.
type Server struct {
	Router *gin.Engine
	// RunCtx is the process-lifetime context used when (re)starting the
	// engine; request contexts end with the request.
	RunCtx    context.Context
	EC        *core.EngineContext
	Orch      *orchestrator.Orchestrator
	Manager   *lifecycle.Manager
	Source    *orchestrator.QueueSource
	Store     *db.Store
	Bus       *events.Bus
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime configuration exposed to clients.
type SystemMeta struct {
	DryRun  bool
	Account string
	Version string
}

// NewServer builds the router and registers all routes.
func NewServer(ec *core.EngineContext, orch *orchestrator.Orchestrator, manager *lifecycle.Manager, source *orchestrator.QueueSource, store *db.Store, bus *events.Bus, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())

	s := &Server{
		Router:    r,
		EC:        ec,
		Orch:      orch,
		Manager:   manager,
		Source:    source,
		Store:     store,
		Bus:       bus,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/trades", s.getTrades)
			protected.GET("/performance", s.getPerformance)

			protected.POST("/signals", s.postSignal)
			protected.POST("/orders/:id/cancel", s.cancelOrder)

			protected.POST("/engine/start", s.startEngine)
			protected.POST("/engine/stop", s.stopEngine)
			protected.POST("/engine/emergency-stop", s.emergencyStop)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server; blocks until it exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

// RequestIDMiddleware tags every request with a stable ID for log
// correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs method, path, status, and latency per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		requestID := c.GetString("RequestID")
		if len(requestID) > 8 {
			requestID = requestID[:8]
		}

		c.Next()

		log.Printf("api: %s | %s %s | %d | %v | %s",
			requestID, method, path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}
