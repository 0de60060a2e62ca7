// Package version holds the build-time identifiers CLI front-ends print
// in their usage banner, set via -ldflags at release build time.
package version

var (
	version  = "dev"
	revision = "unknown"
	branch   = "unknown"
	date     = "unknown"
)

// Version returns the release version string.
func Version() string {
	return version
}

// Revision returns the VCS commit hash.
func Revision() string {
	return revision
}

// Branch returns the VCS branch name.
func Branch() string {
	return branch
}

// Date returns the build timestamp.
func Date() string {
	return date
}
