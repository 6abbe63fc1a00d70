// Package version provides version information for Loom.
package version

// Version is the current version of Loom.
const Version = "0.1.0-dev"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
