// Package util holds small helpers shared by the entrypoint and components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean from the environment. It accepts the usual
// spellings in any case (true/1/yes/on, false/0/no/off); an unset variable
// yields def, and anything unrecognized logs a warning and yields def.
func ParseBoolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized value, falling back", "key", key, "value", raw, "default", def)
	return def
}
