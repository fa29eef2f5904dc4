// IronClaw vault server — per-order git worktrees with
// archive-before-destroy semantics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ironclaw-dev/ironclaw/pkg/config"
	"github.com/ironclaw-dev/ironclaw/pkg/vault"
	"github.com/ironclaw-dev/ironclaw/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	port := config.GetEnvInt("VAULT_PORT", 8011)
	theaterRoot := config.GetEnv("IRONCLAW_THEATER_ROOT", "/var/lib/ironclaw/theaters")

	manager, err := vault.NewManager(theaterRoot)
	if err != nil {
		slog.Error("Failed to initialize vault manager", "error", err)
		os.Exit(1)
	}
	slog.Info("Vault manager initialized", "theater_root", manager.TheaterRoot())

	server := vault.NewServer(manager)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Vault listening", "addr", httpServer.Addr, "version", version.Full())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
