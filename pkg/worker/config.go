package worker

import (
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/config"
)

// Config holds the worker service settings.
type Config struct {
	Port        int
	TheaterRoot string
	LedgerURL   string

	ModelAPIKey      string
	ModelBaseURL     string
	ModelMaxAttempts int
	ModelCallTimeout time.Duration
}

// LoadConfigFromEnv reads the worker configuration from the environment.
func LoadConfigFromEnv() Config {
	return Config{
		Port:             config.GetEnvInt("WORKER_PORT", 8012),
		TheaterRoot:      config.GetEnv("IRONCLAW_THEATER_ROOT", "/var/lib/ironclaw/theaters"),
		LedgerURL:        config.GetEnv("LEDGER_URL", "http://127.0.0.1:8010"),
		ModelAPIKey:      config.GetEnv("MODEL_API_KEY", config.GetEnv("OPENAI_API_KEY", "")),
		ModelBaseURL:     config.GetEnv("MODEL_BASE_URL", config.GetEnv("OPENAI_BASE_URL", "")),
		ModelMaxAttempts: config.GetEnvInt("MODEL_MAX_ATTEMPTS", 3),
		ModelCallTimeout: config.GetEnvDuration("MODEL_CALL_TIMEOUT_SECONDS", 60*time.Second),
	}
}
