// IronClaw conductor server — id derivation, ledger-first idempotency,
// and vault → worker → vault orchestration.
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
	"github.com/ironclaw-dev/ironclaw/pkg/conductor"
	"github.com/ironclaw-dev/ironclaw/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg := conductor.LoadConfigFromEnv()

	orchestrator := conductor.NewOrchestrator(cfg,
		client.NewLedger(cfg.LedgerURL),
		client.NewVault(cfg.VaultURL),
		client.NewWorker(cfg.WorkerURL, cfg.WorkerMaxWait),
	)
	slog.Info("Conductor initialized",
		"theater", cfg.Theater, "ledger", cfg.LedgerURL,
		"vault", cfg.VaultURL, "worker", cfg.WorkerURL)

	server := conductor.NewServer(orchestrator, cfg)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Conductor listening", "addr", httpServer.Addr, "version", version.Full())
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
