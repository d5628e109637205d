// Package version identifies the devboot build. Both binaries report it,
// the device announces it over mDNS, and the dashboard serves it.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Set at link time:
//
//	go build -ldflags="-X github.com/muurk/devboot/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/devboot/internal/version.Commit=abc123"
//
// Unset values come from the VCS stamp in the build info, then from a
// "dev-<timestamp>" placeholder.
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			fromSettings(info.Settings)
		}
	}
	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromSettings fills Version and Commit from the vcs.* build settings.
func fromSettings(settings []debug.BuildSetting) {
	vcs := make(map[string]string)
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}

	if rev := vcs["vcs.revision"]; Commit == "" && rev != "" {
		if len(rev) > 7 {
			rev = rev[:7]
		}
		if vcs["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Commit = rev
	}

	// Build info carries no tags; the commit date stands in.
	if Version == "" && vcs["vcs.time"] != "" {
		if t, err := time.Parse(time.RFC3339, vcs["vcs.time"]); err == nil {
			Version = fmt.Sprintf("dev-%s", t.Format("20060102"))
		}
	}
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// UserAgent is sent by devboot HTTP clients.
func UserAgent() string {
	return "devboot/" + Version
}
