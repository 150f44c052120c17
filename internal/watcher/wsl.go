package watcher

import (
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	wslOnce   sync.Once
	wslResult bool
)

// IsWSL reports whether the host kernel is a WSL kernel, where native
// recursive watching of Windows-mounted trees is unreliable. The kernel is
// probed once per process.
func IsWSL() bool {
	wslOnce.Do(func() {
		var u unix.Utsname
		if err := unix.Uname(&u); err != nil {
			return
		}
		wslResult = isWSLRelease(unix.ByteSliceToString(u.Release[:]))
	})
	return wslResult
}

func isWSLRelease(release string) bool {
	r := strings.ToLower(release)
	return strings.Contains(r, "microsoft") || strings.Contains(r, "wsl")
}
