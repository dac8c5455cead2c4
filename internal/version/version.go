// Package version carries the build metadata surfaced by the glucowatch
// version command.
package version

var (
	// Version is the semantic version of the glucowatch binary, injected
	// via -ldflags at release time.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
