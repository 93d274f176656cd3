// Package version carries build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the release of the converter.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the one-line build description printed by --version and
// recorded in dataset metadata.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
