// IronClaw ledger server — append-only event log with derived run and
// order snapshots.
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
	"github.com/ironclaw-dev/ironclaw/pkg/ledger"
	"github.com/ironclaw-dev/ironclaw/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	port := config.GetEnvInt("LEDGER_PORT", 8010)
	ctx := context.Background()

	dbConfig := ledger.LoadDBConfigFromEnv()
	db, err := ledger.OpenDB(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to open ledger database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing ledger database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database", "host", dbConfig.Host, "database", dbConfig.Database)

	store := ledger.NewStore(db)
	server := ledger.NewServer(store)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Ledger listening", "addr", httpServer.Addr, "version", version.Full())
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

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
