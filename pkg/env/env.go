// Package env reads the handful of process settings that must be known before
// config.Load runs, such as the log format.
package env

import (
	"os"
	"strings"
)

const prefix = "STOREFRONT_"

// Get returns the value of STOREFRONT_<key>, then the bare key, or fallback.
func Get(key, fallback string) string {
	return First(fallback, prefix+key, key)
}

// First returns the first non-blank value among keys, or fallback.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}
