// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command reviewq-server runs the reference review queue API used by the
// trialbyte CLI in local demos and integration tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/cmd/reviewq-server/server"
	"github.com/Darsh1153/trialbyte-v3-sub002/internal/config"
	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		addr        string
		logRequests bool
	)
	cmd := &cobra.Command{
		Use:           "reviewq-server",
		Short:         "Reference review queue server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return run(cfg, logRequests)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file or directory containing trialbyte.yaml")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&logRequests, "log-requests", false, "log every HTTP request")
	return cmd
}

func run(cfg *config.Config, logRequests bool) error {
	logger, err := config.NewLogger(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	components, err := server.SetupServer(&server.ServerConfig{
		Settings:    cfg.Server,
		Logger:      logger,
		AppName:     "reviewq-server",
		LogRequests: logRequests,
	})
	if err != nil {
		return fmt.Errorf("failed to setup server: %w", err)
	}
	defer components.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      components.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting review queue server", "addr", httpServer.Addr)
		logger.Info("Review queue endpoints available at:")
		logger.Info("  POST " + reviewq.PathSubmitChange + "    - Submit a change for review")
		logger.Info("  GET  " + reviewq.PathPendingChanges + "                 - List change requests")
		logger.Info("  POST " + reviewq.PathPendingChanges + "/{id}/approve    - Approve (admin)")
		logger.Info("  POST " + reviewq.PathPendingChanges + "/{id}/reject     - Reject (admin)")
		logger.Info("  POST " + reviewq.PathSignin + "              - Dummy signin to obtain JWT (user/role)")
		logger.Info("  GET  /health, GET /metrics")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("Shutting down server...")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}
