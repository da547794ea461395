package version

import "fmt"

// Set at build time with -ldflags "-X position-health-alerts/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build identity on one line.
func String() string {
	return fmt.Sprintf("healthwatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}
