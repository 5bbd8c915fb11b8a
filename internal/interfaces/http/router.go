// Package http wires the gin engine: global middleware, the guard endpoint,
// operator routes, health probes and metrics.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/interfaces/http/handlers"
	"github.com/turtacn/abuseguard/internal/interfaces/http/middleware"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// Telemetry is what the router needs from the monitoring package.
type Telemetry interface {
	middleware.HTTPObserver
	Handler() http.Handler
}

// Router owns the gin engine and the HTTP server.
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	resolver      *identity.Resolver
	guardHandler  *handlers.GuardHandler
	adminHandler  *handlers.AdminHandler
	healthHandler *handlers.HealthHandler
	telemetry     Telemetry
	tracer        trace.Tracer
	server        *http.Server
}

// NewRouter creates the router and registers every route.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	resolver *identity.Resolver,
	guardHandler *handlers.GuardHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	telemetry Telemetry,
	tracer trace.Tracer,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log.WithComponent("http"),
		resolver:      resolver,
		guardHandler:  guardHandler,
		adminHandler:  adminHandler,
		healthHandler: healthHandler,
		telemetry:     telemetry,
		tracer:        tracer,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Observability(r.tracer, r.telemetry))
	r.engine.Use(middleware.Logger(r.logger))

	if len(r.config.Server.CORSOrigins) > 0 {
		r.engine.Use(cors.New(cors.Config{
			AllowOrigins:  r.config.Server.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID", "X-User-Id", "X-Device-Id"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.engine.GET("/healthz", r.healthHandler.LivenessCheck)
	r.engine.GET("/readyz", r.healthHandler.ReadinessCheck)
	r.engine.GET("/metrics", gin.WrapH(r.telemetry.Handler()))

	if r.config.Server.EnablePprof {
		pprof.Register(r.engine)
	}

	v1 := r.engine.Group("/v1", middleware.Identity(r.resolver))
	v1.POST("/guard/:action", r.guardHandler.Check)

	admin := r.engine.Group("/admin", middleware.AdminAuth(r.config.Admin.Token))
	{
		admin.GET("/policies", r.adminHandler.ListPolicies)
		admin.GET("/events", r.adminHandler.RecentEvents)
		admin.GET("/events/persisted", r.adminHandler.PersistedEvents)
		admin.DELETE("/cooldowns/:userHash", r.adminHandler.ClearCooldowns)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Engine returns the gin engine, for tests and for embedding extra routes.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start serves HTTP until Stop is called.
func (r *Router) Start() error {
	addr := r.config.Server.Addr()
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    r.config.Server.ReadTimeout,
		WriteTimeout:   r.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "Stopping HTTP server")
	return r.server.Shutdown(ctx)
}
