// Package version carries build identification injected at link time.
package version

import "fmt"

// Build identification, overridden via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the full build identification.
func String() string {
	return fmt.Sprintf("seedfang %s (commit %s, built %s)", Version, Commit, Date)
}
