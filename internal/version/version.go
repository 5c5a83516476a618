// Package version carries the build identity of the shopgeo binary.
package version

import "fmt"

// Overridden at link time with -ldflags "-X .../internal/version.Version=...".
//
//nolint:revive
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the identity as "version (commit, date)".
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
}
