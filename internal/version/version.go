// Package version holds build metadata for SpeedWatch, set at link time:
//
//	go build -ldflags "-X github.com/HerbHall/speedwatch/internal/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the line printed by --version.
func Info() string {
	return fmt.Sprintf("speedwatch %s (commit %s, built %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns the bare version, e.g. "1.2.0" or "dev".
func Short() string {
	return Version
}

// Map returns the build metadata keyed for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
