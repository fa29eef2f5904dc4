// IronClaw observer server — stall, integrity, and orphan detection with
// deduplicated alerting.
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
	"github.com/ironclaw-dev/ironclaw/pkg/observer"
	"github.com/ironclaw-dev/ironclaw/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg := observer.LoadConfigFromEnv()

	ledgerClient := client.NewLedger(cfg.LedgerURL)
	vaultClient := client.NewVault(cfg.VaultURL)
	signals := observer.NewSignals(ledgerClient, cfg.Theater, cfg.AuditLogPath, cfg.DedupeTTL)
	monitor := observer.NewMonitor(cfg, ledgerClient, vaultClient, signals)

	ctx, stopMonitor := context.WithCancel(context.Background())
	go monitor.Run(ctx)

	server := observer.NewServer(monitor, signals)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Observer listening", "addr", httpServer.Addr, "version", version.Full())
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

	stopMonitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
