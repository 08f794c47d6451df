package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"autopinner/internal/api"
	"autopinner/internal/mcp"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker with the HTTP API, MCP endpoint and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, nil)
			if err != nil {
				return err
			}
			// Tasks must not be cancelled by the signal; Stop lets the one in flight finish.
			runCtx := context.WithoutCancel(ctx)
			a.dispatcher.Start(runCtx)

			if a.cfg.Worker.AutoStart {
				if err := a.worker.Start(runCtx); err != nil {
					a.logger.Error("start worker", "err", err)
				}
			}

			mcpServer := mcp.NewMCPServer(a.worker, a.store, a.logger, version)
			server := api.NewServer(api.Options{
				Addr:      a.cfg.Server.Addr,
				AuthToken: a.cfg.Server.AuthToken,
				Location:  a.cfg.Location(),
				MCP:       mcpServer.Handler(),
				Metrics:   a.metrics.Handler(),
			}, a.worker, a.store, a.logger)

			serverErr := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			var runErr error
			select {
			case <-ctx.Done():
				a.logger.Info("shutting down")
			case runErr = <-serverErr:
				a.logger.Error("server error", "err", runErr)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown", "err", err)
			}
			a.close(shutdownCtx)
			return runErr
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol.
			a, err := newApp(ctx, cmd, os.Stderr)
			if err != nil {
				return err
			}
			runCtx := context.WithoutCancel(ctx)
			a.dispatcher.Start(runCtx)
			if a.cfg.Worker.AutoStart {
				if err := a.worker.Start(runCtx); err != nil {
					a.logger.Error("start worker", "err", err)
				}
			}

			runErr := mcp.NewMCPServer(a.worker, a.store, a.logger, version).Run()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
			defer cancel()
			a.close(shutdownCtx)
			return runErr
		},
	}
}
