// IronClaw worker server — mission execution inside vault worktrees with
// content-addressed model caching.
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

	"github.com/ironclaw-dev/ironclaw/pkg/client"
	"github.com/ironclaw-dev/ironclaw/pkg/version"
	"github.com/ironclaw-dev/ironclaw/pkg/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg := worker.LoadConfigFromEnv()

	chat := worker.NewChatClient(cfg.ModelAPIKey, cfg.ModelBaseURL)
	caller := worker.NewModelCaller(chat, cfg.ModelMaxAttempts, cfg.ModelCallTimeout)
	ledgerClient := client.NewLedger(cfg.LedgerURL)

	runner, err := worker.NewRunner(cfg.TheaterRoot, ledgerClient, caller)
	if err != nil {
		slog.Error("Failed to initialize worker runner", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker runner initialized",
		"theater_root", cfg.TheaterRoot, "model_base_url", cfg.ModelBaseURL)

	server := worker.NewServer(runner)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Worker listening", "addr", httpServer.Addr, "version", version.Full())
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

	// Give an in-flight attempt a chance to reach its AAR before exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
