// Package version carries build-time identification for the daemon binary.
package version

var (
	// Version is the semantic version, set via -ldflags at build time.
	Version = "v0.0.0-dev"

	// GitCommit is the short git commit hash, set via -ldflags.
	GitCommit = "unknown"

	// BuildTime is the build timestamp, set via -ldflags.
	BuildTime = "unknown"
)

// Info renders a one-line human-readable version string.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
