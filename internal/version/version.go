// Package version reports the build this binary came from.
package version

import "runtime/debug"

// These variables are set at build time using ldflags.
// Example: go build -ldflags "-X github.com/abdullathedruid/ptyhost/internal/version.GitSHA=$(git rev-parse --short HEAD)"
var (
	// GitSHA is the git commit SHA (short form) at build time.
	GitSHA = "dev"
)

// Short returns a short version string suitable for display. Without
// ldflags it falls back to the VCS revision stamped by the go tool.
func Short() string {
	if GitSHA != "dev" {
		return GitSHA
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitSHA
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return GitSHA
}
