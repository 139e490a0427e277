// Package version exposes build version information.
package version

import "fmt"

// Set at build time via -ldflags "-X github.com/HerbHall/wifiwarden/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("wifiwarden %s (commit %s, built %s)", Version, Commit, Date)
}
