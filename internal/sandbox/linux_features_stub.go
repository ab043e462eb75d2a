//go:build !linux

package sandbox

// LinuxFeatures is a stub for non-Linux platforms.
type LinuxFeatures struct {
	HasBwrap      bool
	HasSocat      bool
	HasSeccomp    bool
	CanUnshareNet bool
	KernelMajor   int
	KernelMinor   int
}

// DetectLinuxFeatures returns empty features on non-Linux platforms.
func DetectLinuxFeatures() *LinuxFeatures {
	return &LinuxFeatures{}
}

// Summary returns a fixed string on non-Linux platforms.
func (f *LinuxFeatures) Summary() string {
	return "not linux"
}

// MinimumViable returns false on non-Linux platforms.
func (f *LinuxFeatures) MinimumViable() bool {
	return false
}
