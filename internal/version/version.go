// Package version holds build identity, overridden at link time.
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the full version line
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
