package observer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/config"
)

// Config holds the observer service settings.
type Config struct {
	Port        int
	LedgerURL   string
	VaultURL    string
	Theater     string
	TheaterRoot string

	PollInterval       time.Duration
	StallAfter         time.Duration
	DedupeTTL          time.Duration
	EventFetchLimit    int
	EnableVaultCleanup bool
	AuditLogPath       string
}

// LoadConfigFromEnv reads the observer configuration from the
// environment.
func LoadConfigFromEnv() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Port:               config.GetEnvInt("OBSERVER_PORT", 8014),
		LedgerURL:          config.GetEnv("LEDGER_URL", "http://127.0.0.1:8010"),
		VaultURL:           config.GetEnv("VAULT_URL", "http://127.0.0.1:8011"),
		Theater:            config.GetEnv("THEATER", "demo"),
		TheaterRoot:        config.GetEnv("IRONCLAW_THEATER_ROOT", "/var/lib/ironclaw/theaters"),
		PollInterval:       config.GetEnvDuration("OBSERVER_POLL_INTERVAL_SECONDS", 30*time.Second),
		StallAfter:         config.GetEnvDuration("OBSERVER_STALL_SECONDS", 300*time.Second),
		DedupeTTL:          config.GetEnvDuration("OBSERVER_DEDUPE_TTL_SECONDS", time.Hour),
		EventFetchLimit:    config.GetEnvInt("OBSERVER_EVENT_FETCH_LIMIT", 1000),
		EnableVaultCleanup: config.GetEnvBool("ENABLE_VAULT_CLEANUP", false),
		AuditLogPath: config.GetEnv("OBSERVER_AUDIT_LOG",
			filepath.Join(home, ".ironclaw", "observer", "alerts.jsonl")),
	}
}
