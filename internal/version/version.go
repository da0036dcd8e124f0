package version

import "fmt"

// Build metadata, stamped through -ldflags at release time.
// Local builds fall back to the defaults below.
var (
	// Version is the semantic release version.
	Version = "1.0.0"
	// Commit is the abbreviated git revision the binary was built from.
	Commit = "none"
	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Short returns the bare semantic version, suitable for release manifests.
func Short() string {
	return Version
}

// Full renders the version together with commit and build timestamp.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}
