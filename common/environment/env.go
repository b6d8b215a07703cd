// Package environment provides small helpers for reading configuration out
// of environment variables. Every helper follows the same shape: read a
// named variable and fall back to a default, or fail loudly when the value
// is required. Business logic never calls os.Exit from in here.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the named variable's value, or def if unset or empty.
func StringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// RequiredString returns the named variable's value, or an error if it is
// unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses the named variable as a bool (accepting anything
// strconv.ParseBool accepts), falling back to def when unset, empty, or
// unparsable.
func BoolOr(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntOr parses the named variable as a decimal integer, falling back to def
// when unset, empty, or unparsable.
func IntOr(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FloatOr parses the named variable as a float64, falling back to def when
// unset, empty, or unparsable.
func FloatOr(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// DurationOr parses the named variable with time.ParseDuration (e.g. "30s",
// "5m"), falling back to def when unset, empty, or unparsable.
func DurationOr(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// StringSliceOr parses the named variable as a comma-separated list,
// trimming whitespace around each element and dropping empty elements.
// Falls back to def when unset, empty, or left with no elements.
func StringSliceOr(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
