package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrSeccompBlobMissing is returned when no pre-compiled seccomp BPF blob
// is staged for the running architecture.
var ErrSeccompBlobMissing = errors.New("sandboxrun: no seccomp filter staged for this architecture")

// SeccompBlobDir is the directory searched for pre-compiled BPF filter
// blobs, keyed by GOARCH. The blobs themselves are built out-of-band by a
// separate compiler (outside this module's scope, per the component
// boundary drawn in §1/§4.5): this resolver only locates one.
var SeccompBlobDir = "internal/sandbox/seccomp-filters"

// ResolveSeccompFilter returns the filesystem path to the pre-compiled
// seccomp BPF filter blob for the current architecture, or
// ErrSeccompBlobMissing if none is staged. allowAllUnixSockets selects the
// wider variant of the filter, which permits AF_UNIX socket syscalls
// unconditionally.
func ResolveSeccompFilter(allowAllUnixSockets bool) (string, error) {
	suffix := ""
	if allowAllUnixSockets {
		suffix = "-unix"
	}
	name := fmt.Sprintf("%s%s.bpf", runtime.GOARCH, suffix)
	path := filepath.Join(SeccompBlobDir, name)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSeccompBlobMissing, path)
		}
		return "", fmt.Errorf("sandboxrun: stat seccomp filter %s: %w", path, err)
	}
	return path, nil
}
