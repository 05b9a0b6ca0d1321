// Package util provides utility functions for the Amparo application.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean switch from the environment, such as
// SCHEDULER_ENABLED. Unset variables yield the fallback; so do values that
// spell neither true (true/1/yes/on) nor false (false/0/no/off), after a
// warning.
func ParseBoolEnv(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using fallback", "key", key, "value", raw, "fallback", fallback)
	return fallback
}
