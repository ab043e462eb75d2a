//go:build linux

package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// LinuxFeatures describes the Linux sandboxing capabilities available on
// this host. Landlock/eBPF detection from the teacher lineage is not
// carried here: the jail's filesystem enforcement is read-only bind
// mounts plus tmpfs shadowing (§4.5), not a second LSM layer.
type LinuxFeatures struct {
	HasBwrap bool
	HasSocat bool

	HasSeccomp bool

	// CanUnshareNet is false in containerized environments (Docker, CI)
	// that lack CAP_NET_ADMIN to set up the loopback interface in a new
	// network namespace.
	CanUnshareNet bool

	KernelMajor int
	KernelMinor int
}

var (
	detectedFeatures *LinuxFeatures
	detectOnce       sync.Once
)

// DetectLinuxFeatures probes available sandboxing features. Results are
// cached for the lifetime of the process.
func DetectLinuxFeatures() *LinuxFeatures {
	detectOnce.Do(func() {
		detectedFeatures = &LinuxFeatures{}
		detectedFeatures.detect()
	})
	return detectedFeatures
}

func (f *LinuxFeatures) detect() {
	f.HasBwrap = commandExists("bwrap")
	f.HasSocat = commandExists("socat")
	f.parseKernelVersion()
	f.detectSeccomp()
	f.detectNetworkNamespace()
}

func (f *LinuxFeatures) parseKernelVersion() {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return
	}

	release := unix.ByteSliceToString(uname.Release[:])
	parts := strings.Split(release, ".")
	if len(parts) >= 2 {
		f.KernelMajor, _ = strconv.Atoi(parts[0])
		minorStr := strings.Split(parts[1], "-")[0]
		f.KernelMinor, _ = strconv.Atoi(minorStr)
	}
}

func (f *LinuxFeatures) detectSeccomp() {
	// PR_GET_SECCOMP succeeds (returning the current mode) on a kernel
	// built with seccomp support, and fails with EINVAL on one without it.
	_, _, err := unix.Syscall(unix.SYS_PRCTL, unix.PR_GET_SECCOMP, 0, 0)
	if err == 0 {
		f.HasSeccomp = true
	}
}

// detectNetworkNamespace probes whether bwrap --unshare-net works. This
// can fail in containerized environments without CAP_NET_ADMIN.
func (f *LinuxFeatures) detectNetworkNamespace() {
	if !f.HasBwrap {
		return
	}
	cmd := exec.Command("bwrap", "--unshare-net", "--ro-bind", "/", "/", "--", "/bin/true")
	err := cmd.Run()
	f.CanUnshareNet = err == nil
}

// Summary returns a human-readable description of available features.
func (f *LinuxFeatures) Summary() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("kernel %d.%d", f.KernelMajor, f.KernelMinor))
	if f.HasBwrap {
		if f.CanUnshareNet {
			parts = append(parts, "bwrap")
		} else {
			parts = append(parts, "bwrap(no-netns)")
		}
	}
	if f.HasSeccomp {
		parts = append(parts, "seccomp")
	}
	return strings.Join(parts, ", ")
}

// MinimumViable reports whether the minimum required tools are present.
func (f *LinuxFeatures) MinimumViable() bool {
	return f.HasBwrap && f.HasSocat
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
