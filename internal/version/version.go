/*
Package version provides build information for espresso-dialin.

Values are set via ldflags during build:

	-X github.com/khanglvm/espresso-dialin/internal/version.Version=v0.3.0
	-X github.com/khanglvm/espresso-dialin/internal/version.Commit=abc1234
	-X github.com/khanglvm/espresso-dialin/internal/version.Date=2026-10-01

A plain `go build` leaves them unset; Get then falls back to the VCS
stamp the toolchain embeds.
*/
package version

import (
	"runtime"
	"runtime/debug"
)

// Version information (set via ldflags during build)
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the build information of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
}

// Get returns the build information.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
	if info.Commit != "none" {
		return info
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 7 {
				info.Commit = s.Value[:7]
			} else {
				info.Commit = s.Value
			}
		case "vcs.time":
			if len(s.Value) >= 10 {
				info.Date = s.Value[:10]
			}
		}
	}
	return info
}

// String formats the information for display.
func (i Info) String() string {
	if i.Version == "dev" {
		return "dev (development build, " + i.GoVersion + ")"
	}
	return i.Version + " (commit: " + i.Commit + ", built: " + i.Date + ", " + i.GoVersion + ")"
}
