// Package env reads the few settings needed before config is loaded.
package env

import (
	"os"
	"strconv"
	"strings"
)

// Get returns the trimmed value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// GetBool parses key with strconv.ParseBool. Unparseable values yield fallback.
func GetBool(key string, fallback bool) bool {
	raw := Get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
