// Package http wires the broker's management surface onto a gin.Engine:
// the enqueue/query/move/clear/export/import endpoints and the SSE
// change-event stream spec.md §6 describes as an external collaborator.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"streamq/internal/config"
	"streamq/internal/transport/http/handlers"
	"streamq/internal/transport/http/middleware"
)

// Server is the HTTP transport process. It owns no broker logic —
// everything it serves is one call into internal/broker.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	handlers *handlers.Handlers
	engine   *gin.Engine
	server   *http.Server
	serveErr chan error
}

// NewServer builds a Server ready to Start.
func NewServer(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: h,
		serveErr: make(chan error, 1),
	}
}

// Start configures routes and begins serving, blocking until the
// listener stops. Callers that want non-blocking startup should run it
// in a goroutine and watch ServeErr.
func (s *Server) Start() error {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.engine = gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.config.Server.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.MaxAge = 5 * time.Minute
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting http transport", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		select {
		case s.serveErr <- err:
		default:
		}
		return err
	}
	return nil
}

// ServeErr surfaces an unexpected listener failure to callers monitoring
// the server from a supervising goroutine.
func (s *Server) ServeErr() <-chan error {
	return s.serveErr
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))

	s.engine.GET("/healthz", s.handlers.Healthz)
	s.engine.GET("/metrics", s.handlers.Metrics)

	api := s.engine.Group("/api/queue")
	{
		api.GET("/config", s.handlers.Config)
		api.GET("/status", s.handlers.Status)
		api.GET("/events", s.handlers.Events)

		api.GET("/:type/messages", s.handlers.Messages)
		api.GET("/:type/export", s.handlers.Export)
		api.DELETE("/:type/clear", s.handlers.ClearQueue)
		api.DELETE("/clear", s.handlers.ClearAll)

		api.POST("/message", s.handlers.Enqueue)
		api.PUT("/message/:type/:id", s.handlers.EditMessage)
		api.DELETE("/message/:type/:id", s.handlers.DeleteMessage)
		api.POST("/messages/delete", s.handlers.BulkDeleteMessages)
		api.POST("/move", s.handlers.Move)
		api.POST("/import", s.handlers.Import)
	}
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
