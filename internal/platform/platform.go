// Package platform detects the host operating system for sandbox dispatch.
package platform

import (
	"os"
	"runtime"
	"strings"
)

// Platform identifies the host OS family relevant to sandbox enforcement.
type Platform string

const (
	MacOS Platform = "macos"
	Linux Platform = "linux"
	WSL   Platform = "wsl"
	Other Platform = "other"
)

// Detect returns the current platform. WSL is distinguished from plain
// Linux by the presence of the Microsoft marker in the kernel release
// string, since bwrap/seccomp behave differently under WSL2's lightweight
// VM kernel than under a native Linux host.
func Detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "linux":
		if isWSL() {
			return WSL
		}
		return Linux
	default:
		return Other
	}
}

// IsSupported reports whether the sandbox has enforcement support for
// the detected platform. WSL is treated as Linux-like: it gets the same
// bwrap/socat bridge dispatch as a native Linux host.
func IsSupported() bool {
	switch Detect() {
	case MacOS, Linux, WSL:
		return true
	default:
		return false
	}
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	s := strings.ToLower(string(data))
	return strings.Contains(s, "microsoft") || strings.Contains(s, "wsl")
}
