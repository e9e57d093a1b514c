// Package version provides build and version information for qamatch.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information, set via ldflags:
//
//	-X github.com/Aman-CERP/qamatch/pkg/version.Version=v0.3.0
//	-X github.com/Aman-CERP/qamatch/pkg/version.Commit=abc1234
//	-X github.com/Aman-CERP/qamatch/pkg/version.Date=2026-01-02T15:04:05Z
//
// When unset, Commit and Date fall back to the VCS stamp Go embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "unknown":
				info.Commit = shortCommit(s.Value)
			case s.Key == "vcs.time" && info.Date == "unknown":
				info.Date = s.Value
			}
		}
	}
	return info
}

// String returns a one-line version string with all build info.
func String() string {
	i := GetInfo()
	return fmt.Sprintf("qamatch %s (commit: %s, built: %s, go: %s, %s/%s)",
		i.Version, i.Commit, i.Date, i.GoVersion, i.OS, i.Arch)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// UserAgent identifies qamatch in outgoing HTTP requests.
func UserAgent() string {
	return "qamatch/" + Version
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
