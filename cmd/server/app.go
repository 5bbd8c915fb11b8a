package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/guard"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/infrastructure/audit"
	"github.com/turtacn/abuseguard/internal/infrastructure/counterstore"
	"github.com/turtacn/abuseguard/internal/infrastructure/monitoring"
	"github.com/turtacn/abuseguard/internal/infrastructure/persistence/database"
	redisconn "github.com/turtacn/abuseguard/internal/infrastructure/persistence/redis"
	grpcapi "github.com/turtacn/abuseguard/internal/interfaces/grpc"
	apihttp "github.com/turtacn/abuseguard/internal/interfaces/http"
	"github.com/turtacn/abuseguard/internal/interfaces/http/handlers"
	"github.com/turtacn/abuseguard/internal/policy"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// app is everything the process owns between startup and shutdown.
type app struct {
	log        logger.Logger
	router     *apihttp.Router
	grpcServer *grpc.Server
	grpcHealth *health.Server
	dispatcher *guard.Dispatcher
	retention  *audit.RetentionJob
	tracing    *monitoring.TracingManager
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, loader *config.Loader, log logger.Logger) (*app, error) {
	a := &app{log: log}
	if err := a.build(ctx, cfg, loader); err != nil {
		a.shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *config.Config, loader *config.Loader) error {
	log := a.log

	tracing, err := monitoring.NewTracingManager(ctx, &cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracing = tracing
	metrics := monitoring.NewMetrics()
	resolver := identity.NewResolver(cfg.Identity.HashSecret)

	table, err := policy.Load(cfg.Guard.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	var checks []handlers.HealthCheck
	store, storeCheck, err := a.buildStore(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	if storeCheck != nil {
		checks = append(checks, *storeCheck)
	}

	sinks := audit.NewMultiSink()
	if cfg.EventLog.Enabled {
		sinks.Add("event_log", audit.NewEventLogSink(store))
	}

	var persisted handlers.EventQuerier
	if cfg.Database.Driver != "" {
		db, err := database.NewDBConnection(ctx, &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"database", db})
		checks = append(checks, handlers.HealthCheck{Name: "database", Check: db.HealthCheck})

		repo := audit.NewGormEventRepository(db.DB())
		sinks.Add("database", repo)
		persisted = repo

		a.retention, err = audit.NewRetentionJob(repo, cfg.Audit.RetentionDays, cfg.Audit.RetentionSchedule, metrics, log)
		if err != nil {
			return fmt.Errorf("failed to schedule event retention: %w", err)
		}
		a.retention.Start()
	}

	if cfg.Kafka.Enabled {
		producer := audit.NewKafkaProducer(cfg.Kafka, log)
		a.closers = append(a.closers, namedCloser{"kafka", producer})
		sinks.Add("kafka", producer)
	}

	var sink service.AbuseEventSink
	if sinks.Len() > 0 {
		sink = audit.NewSigningSink(sinks, cfg.Audit.SigningKey)
	}
	a.dispatcher = guard.NewDispatcher(sink, cfg.Guard.DispatchConcurrency, cfg.Guard.DispatchTimeout, metrics, log)

	g := guard.New(
		engine.New(table, store, metrics, log),
		loader.Flags(),
		a.dispatcher,
		store,
		metrics,
		tracing.Tracer(),
		log,
	)

	a.router = apihttp.NewRouter(cfg, log, resolver,
		handlers.NewGuardHandler(g, resolver, log),
		handlers.NewAdminHandler(table, store, persisted, g, log),
		handlers.NewHealthHandler(log, checks...),
		metrics,
		tracing.Tracer(),
	)

	methods, err := cfg.Guard.GRPCActions()
	if err != nil {
		return err
	}
	chain := grpcapi.NewInterceptorChain(log, g, resolver, methods)
	a.grpcServer = grpc.NewServer(chain.ChainUnaryInterceptors())
	a.grpcHealth = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.grpcHealth)
	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return nil
}

// buildStore returns the counter store selected by store.backend. Redis being
// unreachable at startup is not fatal: the guard fails open until it recovers.
func (a *app) buildStore(ctx context.Context, cfg *config.Config, metrics service.Metrics) (service.AbuseStore, *handlers.HealthCheck, error) {
	eventLog := counterstore.EventLogConfig{MaxLen: cfg.EventLog.MaxLen, TTL: cfg.EventLog.TTL}

	switch cfg.Store.Backend {
	case "memory":
		a.log.Warn(ctx, "Using in-process counter store; counters are not shared between instances")
		return counterstore.NewMemoryCounterStore(eventLog, time.Minute), nil, nil
	case "redis":
		redisCfg := redisconn.Config(cfg.Redis)
		conn := redisconn.NewRedisConnection(&redisCfg, a.log)
		a.closers = append(a.closers, namedCloser{"redis", conn})
		if err := conn.Connect(ctx); err != nil {
			a.log.Warn(ctx, "Redis unavailable at startup, guard will fail open", logger.Err(err))
		}
		check := &handlers.HealthCheck{Name: "redis", Check: conn.Ping}
		return counterstore.NewRedisCounterStore(conn, eventLog, metrics, a.log), check, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// shutdown stops the listeners first, then drains pending event writes before
// closing the stores they write to.
func (a *app) shutdown(ctx context.Context) {
	if a.grpcHealth != nil {
		a.grpcHealth.Shutdown()
	}
	if a.router != nil {
		if err := a.router.Stop(ctx); err != nil {
			a.log.Error(ctx, "HTTP server shutdown failed", err)
		}
	}
	if a.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			a.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.grpcServer.Stop()
		}
	}
	if a.retention != nil {
		a.retention.Stop(ctx)
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.log.Warn(ctx, "Abuse events still in flight at shutdown", logger.Err(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].c.Close(); err != nil {
			a.log.Error(ctx, "Close failed", err, logger.String("resource", a.closers[i].name))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.log.Error(ctx, "Tracer shutdown failed", err)
		}
	}
}
