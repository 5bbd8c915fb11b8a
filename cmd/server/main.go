package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/infrastructure/monitoring"
	"github.com/turtacn/abuseguard/pkg/logger"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:           "abuseguard",
		Short:         "Abuse policy enforcement service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default /etc/abuseguard/config.yaml or ./config.yaml)")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("abuseguard: %v", err)
	}
}

func run(configFile string) error {
	// Logger for startup
	startupLogger, closeStartup, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		return fmt.Errorf("failed to create startup logger: %w", err)
	}
	defer closeStartup.Close()

	loader := config.NewLoader(configFile, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, closeLog, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer closeLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, loader, appLogger)
	if err != nil {
		return err
	}

	if err := loader.Watch(ctx); err != nil {
		appLogger.Warn(ctx, "Config hot reload unavailable", logger.Err(err))
	}

	appLogger.Info(ctx, "Starting abuse guard",
		logger.String("config_file", loader.ConfigFileUsed()),
		logger.Bool("enabled", cfg.Guard.Enabled),
		logger.String("mode", cfg.Guard.Mode),
		logger.String("store", cfg.Store.Backend),
	)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		a.shutdown(context.Background())
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.router.Start)
	g.Go(func() error {
		appLogger.Info(gctx, "gRPC server listening", logger.String("address", lis.Addr().String()))
		return a.grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), "Server exited with error", err)
		return err
	}
	appLogger.Info(context.Background(), "Abuse guard stopped")
	return nil
}
