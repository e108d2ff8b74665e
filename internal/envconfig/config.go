// Package envconfig reads stylize settings from the environment.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable with surrounding quotes and whitespace removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel returns the log level selected by STYLIZE_DEBUG.
// A true boolean selects debug; an integer n selects level -4n.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("STYLIZE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Uint returns a function reading key as an unsigned integer with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// String returns a function reading key as a string.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

var (
	// Weights is the default pretrained weight file.
	Weights = String("STYLIZE_WEIGHTS")
	// MaxSize caps the longest image side on load. 0 keeps the original size.
	MaxSize = Uint("STYLIZE_MAX_SIZE", 0)
	// NumThreads sets the backend worker count. 0 uses every CPU.
	NumThreads = Uint("STYLIZE_NUM_THREADS", 0)
)

// EnvVar describes one recognised environment variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every recognised variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"STYLIZE_DEBUG":       {"STYLIZE_DEBUG", LogLevel(), "Show additional debug information (e.g. STYLIZE_DEBUG=1)"},
		"STYLIZE_WEIGHTS":     {"STYLIZE_WEIGHTS", Weights(), "Default VGG19 weight file"},
		"STYLIZE_MAX_SIZE":    {"STYLIZE_MAX_SIZE", MaxSize(), "Resize inputs so the longest side is at most this many pixels"},
		"STYLIZE_NUM_THREADS": {"STYLIZE_NUM_THREADS", NumThreads(), "Number of CPU worker goroutines (default: all CPUs)"},
	}
}
