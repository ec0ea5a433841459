// Package version exposes the build version of the cadenza binary.
package version

// current is overridden at build time with
// -ldflags "-X github.com/mwald/cadenza/internal/version.current=v1.2.3".
var current = "0.1.0-dev"

// Get returns the current version string.
func Get() string {
	return current
}
