// Package buildinfo exposes version metadata injected at build time.
//
// The Version, Commit, and Date variables are overridden by the release
// build via -ldflags; development builds report "dev".
package buildinfo

import "fmt"

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X github.com/loopdeck/loopdeck/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info holds structured build information suitable for JSON serialization.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// GetInfo returns the current build information as a structured type.
func GetInfo() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
}

// String returns a human-readable version string.
// Example: "loopdeck v0.3.0 (commit: a1b2c3d, built: 2026-08-01T10:00:00Z)"
func (i Info) String() string {
	return fmt.Sprintf("loopdeck v%s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}
