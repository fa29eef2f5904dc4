package conductor

import (
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/config"
)

// Config holds the conductor service settings.
type Config struct {
	Port        int
	LedgerURL   string
	VaultURL    string
	WorkerURL   string
	TheaterRoot string
	Theater     string

	KeepWorktree       bool
	StallSeconds       int
	HardTimeoutSeconds int
	WorkerMaxWait      time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfigFromEnv reads the conductor configuration from the
// environment.
func LoadConfigFromEnv() Config {
	hardTimeout := config.GetEnvInt("WORKER_DEFAULT_HARD_TIMEOUT_SECONDS", 900)
	return Config{
		Port:               config.GetEnvInt("CONDUCTOR_PORT", 8013),
		LedgerURL:          config.GetEnv("LEDGER_URL", "http://127.0.0.1:8010"),
		VaultURL:           config.GetEnv("VAULT_URL", "http://127.0.0.1:8011"),
		WorkerURL:          config.GetEnv("WORKER_URL", "http://127.0.0.1:8012"),
		TheaterRoot:        config.GetEnv("IRONCLAW_THEATER_ROOT", "/var/lib/ironclaw/theaters"),
		Theater:            config.GetEnv("THEATER", "demo"),
		KeepWorktree:       config.GetEnvBool("KEEP_WORKTREE", false),
		StallSeconds:       config.GetEnvInt("WORKER_DEFAULT_STALL_SECONDS", 300),
		HardTimeoutSeconds: hardTimeout,
		// The worker round trip must be allowed to outlive the hard
		// timeout it enforces internally.
		WorkerMaxWait:  time.Duration(hardTimeout+60) * time.Second,
		RateLimitRPS:   float64(config.GetEnvInt("CHAT_RATE_LIMIT_RPS", 5)),
		RateLimitBurst: config.GetEnvInt("CHAT_RATE_LIMIT_BURST", 10),
	}
}
