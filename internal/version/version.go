// Package version holds build metadata for the oembedd and oembedctl
// binaries, injected with -ldflags:
//
//	-X github.com/ferro-labs/oembed-filter/internal/version.Version=v0.3.0
//	-X github.com/ferro-labs/oembed-filter/internal/version.Commit=abc1234
//	-X github.com/ferro-labs/oembed-filter/internal/version.Date=2026-10-01T00:00:00Z
package version

import "fmt"

// Set at link time; local builds keep the dev values.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns e.g. "v0.3.0 (commit abc1234, built 2026-10-01T00:00:00Z)".
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Short returns just the version tag.
func Short() string {
	return Version
}

// UserAgent is sent with every outgoing oEmbed request.
func UserAgent() string {
	return "oembed-filter/" + Version
}
