// Package config provides the environment lookup helpers shared by the
// per-service configuration loaders.
package config

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of key, or defaultVal when unset or empty.
func GetEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// GetEnvInt parses key as an integer, falling back to defaultVal on
// absence or parse failure.
func GetEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// GetEnvBool parses key as a boolean ("true", "1", ...), falling back to
// defaultVal on absence or parse failure.
func GetEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// GetEnvDuration parses key in seconds, falling back to defaultVal.
func GetEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
