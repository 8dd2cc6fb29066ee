package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/theory-cloud/storefront"
	"github.com/theory-cloud/storefront/internal/config"
	"github.com/theory-cloud/storefront/internal/logging"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storefront:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "path to a YAML config file")
	adminToken := flag.Bool("admin-token", false, "log a back-office token for a local admin (local mode only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := context.Background()
	app, err := storefront.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize storefront: %w", err)
	}

	if *adminToken && cfg.Mode == config.ModeLocal {
		token, err := app.IssueToken(identity.Identity{UserID: "local-admin", Role: model.RoleAdmin})
		if err != nil {
			return err
		}
		logger.Info("local admin token", slog.String("token", token))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("storefront starting", slog.String("addr", cfg.Server.Addr), slog.String("mode", cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-quit:
	}

	logger.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited")
	return nil
}
