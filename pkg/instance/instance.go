// Package instance names the running process for logs and lock ownership.
package instance

import (
	"os"

	"github.com/angelmondragon/storefront/pkg/env"
)

// ID prefers an explicit STOREFRONT_INSTANCE_ID, then the platform dyno name,
// then the hostname.
func ID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}
	return env.First(host, "STOREFRONT_INSTANCE_ID", "DYNO")
}
