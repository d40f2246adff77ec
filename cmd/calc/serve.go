package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lemonberrylabs/calculator/pkg/api"
	grpcapi "github.com/lemonberrylabs/calculator/pkg/api/grpc"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/tape"
	"github.com/lemonberrylabs/calculator/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, web UI and gRPC API",
		Long: `Run the HTTP API and web UI on http_addr and the gRPC API on grpc_addr.

When tapes_dir is set its tapes are run at startup and again whenever a
tape file changes; reports are served at /v1/tapes/reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, envFrom(cmd))
		},
	}
}

func serve(ctx context.Context, e *env) error {
	cfg, logger := e.cfg, e.logger

	server := api.New(store.NewMemory(), e.history,
		api.WithLogger(logger),
		api.WithMaxDigits(cfg.MaxDigits),
	)
	web.New(server).Register(server.App())

	grpcServer := grpcapi.New(e.history,
		grpcapi.WithLogger(logger),
		grpcapi.WithMaxDigits(cfg.MaxDigits),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		return server.Listen(cfg.HTTPAddr)
	})

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(cfg.GRPCAddr)
	})

	if cfg.TapesDir != "" {
		watcher := tape.NewWatcher(cfg.TapesDir, tape.Options{
			History:   e.history,
			MaxDigits: cfg.MaxDigits,
			Logger:    logger,
		}, server.RecordReport)
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		grpcServer.GracefulStop()
		return server.Shutdown()
	})

	return g.Wait()
}
