//go:build linux

package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/sandboxrun/internal/pathutil"
	"github.com/anthropics/sandboxrun/internal/policy"
)

// LinuxBridge holds the socat bridge processes that carry outbound traffic
// from inside the jail's Unix-socket-only network namespace to the host's
// HTTP/SOCKS proxy listeners.
type LinuxBridge struct {
	HTTPSocketPath  string
	SOCKSSocketPath string
	httpProcess     *exec.Cmd
	socksProcess    *exec.Cmd
	debug           bool
}

// ReverseBridge holds socat bridge processes for inbound connections to
// ports the wrapped command exposes inside the jail.
type ReverseBridge struct {
	Ports       []int
	SocketPaths []string
	processes   []*exec.Cmd
	debug       bool
}

// LinuxSandboxOptions configures the bwrap jail.
type LinuxSandboxOptions struct {
	UseSeccomp bool
	Debug      bool
}

// NewLinuxBridge creates Unix socket bridges to the host's proxy servers.
func NewLinuxBridge(httpProxyPort, socksProxyPort int, debug bool) (*LinuxBridge, error) {
	if _, err := exec.LookPath("socat"); err != nil {
		return nil, fmt.Errorf("socat is required on Linux but not found: %w", err)
	}

	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("failed to generate socket ID: %w", err)
	}
	socketID := hex.EncodeToString(id)

	tmpDir := os.TempDir()
	httpSocketPath := filepath.Join(tmpDir, fmt.Sprintf("sandboxrun-http-%s.sock", socketID))
	socksSocketPath := filepath.Join(tmpDir, fmt.Sprintf("sandboxrun-socks-%s.sock", socketID))

	bridge := &LinuxBridge{
		HTTPSocketPath:  httpSocketPath,
		SOCKSSocketPath: socksSocketPath,
		debug:           debug,
	}

	httpArgs := []string{
		fmt.Sprintf("UNIX-LISTEN:%s,fork,reuseaddr", httpSocketPath),
		fmt.Sprintf("TCP:localhost:%d", httpProxyPort),
	}
	bridge.httpProcess = exec.Command("socat", httpArgs...) //nolint:gosec // args constructed from trusted input
	if debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] starting HTTP bridge: socat %s\n", strings.Join(httpArgs, " "))
	}
	if err := bridge.httpProcess.Start(); err != nil {
		return nil, fmt.Errorf("failed to start HTTP bridge: %w", err)
	}

	socksArgs := []string{
		fmt.Sprintf("UNIX-LISTEN:%s,fork,reuseaddr", socksSocketPath),
		fmt.Sprintf("TCP:localhost:%d", socksProxyPort),
	}
	bridge.socksProcess = exec.Command("socat", socksArgs...) //nolint:gosec // args constructed from trusted input
	if debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] starting SOCKS bridge: socat %s\n", strings.Join(socksArgs, " "))
	}
	if err := bridge.socksProcess.Start(); err != nil {
		bridge.Cleanup()
		return nil, fmt.Errorf("failed to start SOCKS bridge: %w", err)
	}

	for range 50 {
		if fileExists(httpSocketPath) && fileExists(socksSocketPath) {
			if debug {
				fmt.Fprintf(os.Stderr, "[sandboxrun:linux] bridges ready (HTTP: %s, SOCKS: %s)\n", httpSocketPath, socksSocketPath)
			}
			return bridge, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	bridge.Cleanup()
	return nil, fmt.Errorf("timeout waiting for bridge sockets to be created")
}

// Cleanup stops the bridge processes and removes socket files.
func (b *LinuxBridge) Cleanup() {
	if b.httpProcess != nil && b.httpProcess.Process != nil {
		_ = b.httpProcess.Process.Kill()
		_ = b.httpProcess.Wait()
	}
	if b.socksProcess != nil && b.socksProcess.Process != nil {
		_ = b.socksProcess.Process.Kill()
		_ = b.socksProcess.Wait()
	}
	_ = os.Remove(b.HTTPSocketPath)
	_ = os.Remove(b.SOCKSSocketPath)
	if b.debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] bridges cleaned up\n")
	}
}

// NewReverseBridge creates Unix socket bridges for inbound connections:
// the host listens on ports and forwards to Unix sockets the jail creates.
func NewReverseBridge(ports []int, debug bool) (*ReverseBridge, error) {
	if len(ports) == 0 {
		return nil, nil
	}
	if _, err := exec.LookPath("socat"); err != nil {
		return nil, fmt.Errorf("socat is required on Linux but not found: %w", err)
	}

	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("failed to generate socket ID: %w", err)
	}
	socketID := hex.EncodeToString(id)

	tmpDir := os.TempDir()
	bridge := &ReverseBridge{Ports: ports, debug: debug}

	for _, port := range ports {
		socketPath := filepath.Join(tmpDir, fmt.Sprintf("sandboxrun-rev-%d-%s.sock", port, socketID))
		bridge.SocketPaths = append(bridge.SocketPaths, socketPath)

		args := []string{
			fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr", port),
			fmt.Sprintf("UNIX-CONNECT:%s,retry=50,interval=0.1", socketPath),
		}
		proc := exec.Command("socat", args...) //nolint:gosec // args constructed from trusted input
		if debug {
			fmt.Fprintf(os.Stderr, "[sandboxrun:linux] starting reverse bridge for port %d: socat %s\n", port, strings.Join(args, " "))
		}
		if err := proc.Start(); err != nil {
			bridge.Cleanup()
			return nil, fmt.Errorf("failed to start reverse bridge for port %d: %w", port, err)
		}
		bridge.processes = append(bridge.processes, proc)
	}

	if debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] reverse bridges ready for ports: %v\n", ports)
	}
	return bridge, nil
}

// Cleanup stops the reverse bridge processes and removes socket files.
func (b *ReverseBridge) Cleanup() {
	for _, proc := range b.processes {
		if proc != nil && proc.Process != nil {
			_ = proc.Process.Kill()
			_ = proc.Wait()
		}
	}
	for _, socketPath := range b.SocketPaths {
		_ = os.Remove(socketPath)
	}
	if b.debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] reverse bridges cleaned up\n")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// hasWildcardAllowedHost reports whether p's network allowlist contains
// the unbounded "*" pattern. In that mode the jail skips network
// namespace isolation entirely, since apps that don't respect HTTP_PROXY
// need a direct path out; deniedHosts are then only enforced for traffic
// that does honor the proxy variables.
func hasWildcardAllowedHost(p *policy.Policy) bool {
	if p == nil || p.Unrestricted || p.Network == nil {
		return false
	}
	for _, h := range p.Network.AllowedHosts {
		if h == "*" {
			return true
		}
	}
	return false
}

// bypassesNetworkNamespace reports whether p's network rules mean the jail
// should skip network namespace isolation (--unshare-net) and share the
// host's namespace directly: either the policy is fully unrestricted (no
// proxying at all, mirroring the macOS builder's unrestricted path), or its
// allowlist contains the unbounded "*" wildcard (see hasWildcardAllowedHost).
func bypassesNetworkNamespace(p *policy.Policy) bool {
	return (p != nil && p.Unrestricted) || hasWildcardAllowedHost(p)
}

// getMandatoryDenyPaths expands GetMandatoryDenyPatterns into concrete
// paths rooted at cwd and the user's home directory.
func getMandatoryDenyPaths(cwd string) []string {
	var paths []string
	for _, f := range DangerousFiles {
		paths = append(paths, filepath.Join(cwd, f))
	}
	for _, d := range DangerousDirectories {
		paths = append(paths, filepath.Join(cwd, d))
	}
	paths = append(paths, filepath.Join(cwd, ".git/hooks"), filepath.Join(cwd, ".git/config"))

	if home, err := os.UserHomeDir(); err == nil {
		for _, f := range DangerousFiles {
			paths = append(paths, filepath.Join(home, f))
		}
	}
	return paths
}

// WrapCommandLinux wraps command with a bubblewrap jail enforcing p, using
// bridge/reverseBridge for proxy connectivity. It returns the shell string
// a caller executes to run command under enforcement.
func WrapCommandLinux(p *policy.Policy, command string, bridge *LinuxBridge, reverseBridge *ReverseBridge, debug bool) (string, error) {
	return WrapCommandLinuxWithOptions(p, command, bridge, reverseBridge, LinuxSandboxOptions{
		UseSeccomp: true,
		Debug:      debug,
	})
}

// WrapCommandLinuxWithOptions wraps command with configurable jail options.
func WrapCommandLinuxWithOptions(p *policy.Policy, command string, bridge *LinuxBridge, reverseBridge *ReverseBridge, opts LinuxSandboxOptions) (string, error) {
	if _, err := exec.LookPath("bwrap"); err != nil {
		return "", fmt.Errorf("%w: bubblewrap (bwrap) not found", ErrPlatformUnsupported)
	}

	shell := "bash"
	shellPath, err := exec.LookPath(shell)
	if err != nil {
		return "", fmt.Errorf("shell %q not found: %w", shell, err)
	}

	cwd, _ := os.Getwd()
	features := DetectLinuxFeatures()

	if opts.Debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] available features: %s\n", features.Summary())
	}

	bypassNamespace := bypassesNetworkNamespace(p)
	if opts.Debug && p != nil && p.Unrestricted {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] unrestricted network policy, skipping network namespace isolation\n")
	} else if opts.Debug && bypassNamespace {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] wildcard allowed host detected, skipping network namespace isolation\n")
	}

	bwrapArgs := []string{"bwrap", "--new-session", "--die-with-parent"}

	if features.CanUnshareNet && !bypassNamespace {
		bwrapArgs = append(bwrapArgs, "--unshare-net")
	} else if opts.Debug && !features.CanUnshareNet {
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] skipping --unshare-net (network namespace unavailable)\n")
	}

	bwrapArgs = append(bwrapArgs, "--unshare-pid")

	var seccompFilterPath string
	if opts.UseSeccomp && features.HasSeccomp {
		filterPath, err := ResolveSeccompFilter(false)
		if err != nil {
			if opts.Debug {
				fmt.Fprintf(os.Stderr, "[sandboxrun:linux] seccomp filter unavailable: %v\n", err)
			}
		} else {
			seccompFilterPath = filterPath
			bwrapArgs = append(bwrapArgs, "--seccomp", "3")
			if opts.Debug {
				fmt.Fprintf(os.Stderr, "[sandboxrun:linux] seccomp filter staged: %s\n", filterPath)
			}
		}
	}

	bwrapArgs = append(bwrapArgs, "--ro-bind", "/", "/")
	bwrapArgs = append(bwrapArgs, "--dev-bind", "/dev", "/dev")
	bwrapArgs = append(bwrapArgs, "--proc", "/proc")
	bwrapArgs = append(bwrapArgs, "--tmpfs", "/tmp")

	writablePaths := make(map[string]bool)
	for _, path := range GetDefaultWritePaths() {
		if strings.HasPrefix(path, "/dev/") || strings.HasPrefix(path, "/tmp/") || strings.HasPrefix(path, "/private/tmp/") {
			continue
		}
		writablePaths[path] = true
	}

	if p != nil && p.Write != nil {
		for _, path := range pathutil.ExpandGlobPatterns(p.Write.Allow) {
			writablePaths[path] = true
		}
	}

	for path := range writablePaths {
		if fileExists(path) {
			bwrapArgs = append(bwrapArgs, "--bind", path, path)
		}
	}

	if p != nil && p.Read.Mode == policy.ReadDenyOnly {
		for _, path := range pathutil.ExpandGlobPatterns(p.Read.Deny) {
			if fileExists(path) {
				bwrapArgs = append(bwrapArgs, "--tmpfs", path)
			}
		}
	}
	if p != nil && p.Read.Mode == policy.ReadAllowOnly {
		// AllowOnly is enforced by making everything NOT in Allow
		// unreadable: shadow every top-level entry outside the allowed
		// set with tmpfs, keeping the allowed paths' --bind mounts above.
		allowed := make(map[string]bool)
		for _, path := range pathutil.ExpandGlobPatterns(p.Read.Allow) {
			allowed[path] = true
		}
		entries, _ := os.ReadDir("/")
		for _, entry := range entries {
			full := filepath.Join("/", entry.Name())
			if !allowed[full] && !writablePaths[full] {
				bwrapArgs = append(bwrapArgs, "--tmpfs", full)
			}
		}
		for _, path := range pathutil.ExpandGlobPatterns(p.Read.DenyWithinAllow) {
			if fileExists(path) {
				bwrapArgs = append(bwrapArgs, "--tmpfs", path)
			}
		}
	}

	mandatoryDeny := getMandatoryDenyPaths(cwd)
	allowGitConfig := false
	mandatoryGlobs := GetMandatoryDenyPatterns(cwd, allowGitConfig)
	mandatoryDeny = append(mandatoryDeny, pathutil.ExpandGlobPatterns(mandatoryGlobs)...)

	seen := make(map[string]bool)
	for _, path := range mandatoryDeny {
		if !seen[path] && fileExists(path) {
			seen[path] = true
			bwrapArgs = append(bwrapArgs, "--ro-bind", path, path)
		}
	}

	if p != nil && p.Write != nil {
		for _, path := range pathutil.ExpandGlobPatterns(p.Write.DenyWithinAllow) {
			if fileExists(path) && !seen[path] {
				seen[path] = true
				bwrapArgs = append(bwrapArgs, "--ro-bind", path, path)
			}
		}
	}

	if bridge != nil {
		bwrapArgs = append(bwrapArgs,
			"--bind", bridge.HTTPSocketPath, bridge.HTTPSocketPath,
			"--bind", bridge.SOCKSSocketPath, bridge.SOCKSSocketPath,
		)
	}
	if reverseBridge != nil && len(reverseBridge.SocketPaths) > 0 {
		tmpDir := filepath.Dir(reverseBridge.SocketPaths[0])
		bwrapArgs = append(bwrapArgs, "--bind", tmpDir, tmpDir)
	}

	bwrapArgs = append(bwrapArgs, "--", shellPath, "-c")

	var innerScript strings.Builder
	if bridge != nil {
		innerScript.WriteString(fmt.Sprintf(`
socat TCP-LISTEN:3128,fork,reuseaddr UNIX-CONNECT:%s >/dev/null 2>&1 &
HTTP_PID=$!
socat TCP-LISTEN:1080,fork,reuseaddr UNIX-CONNECT:%s >/dev/null 2>&1 &
SOCKS_PID=$!

export HTTP_PROXY=http://127.0.0.1:3128
export HTTPS_PROXY=http://127.0.0.1:3128
export http_proxy=http://127.0.0.1:3128
export https_proxy=http://127.0.0.1:3128
export ALL_PROXY=socks5h://127.0.0.1:1080
export all_proxy=socks5h://127.0.0.1:1080
export NO_PROXY=localhost,127.0.0.1
export no_proxy=localhost,127.0.0.1
export SANDBOXRUN=1

`, bridge.HTTPSocketPath, bridge.SOCKSSocketPath))
	}

	if reverseBridge != nil && len(reverseBridge.Ports) > 0 {
		innerScript.WriteString("\n# reverse bridge listeners for inbound connections\n")
		for i, port := range reverseBridge.Ports {
			socketPath := reverseBridge.SocketPaths[i]
			innerScript.WriteString(fmt.Sprintf(
				"socat UNIX-LISTEN:%s,fork,reuseaddr TCP:127.0.0.1:%d >/dev/null 2>&1 &\n",
				socketPath, port,
			))
			innerScript.WriteString(fmt.Sprintf("REV_%d_PID=$!\n", port))
		}
		innerScript.WriteString("\n")
	}

	innerScript.WriteString(`
cleanup() {
    jobs -p | xargs -r kill 2>/dev/null
}
trap cleanup EXIT

sleep 0.1

`)
	innerScript.WriteString(command)
	innerScript.WriteString("\n")

	bwrapArgs = append(bwrapArgs, innerScript.String())

	if opts.Debug {
		var featureList []string
		if features.CanUnshareNet {
			featureList = append(featureList, "bwrap(network,pid,fs)")
		} else {
			featureList = append(featureList, "bwrap(pid,fs)")
		}
		if seccompFilterPath != "" {
			featureList = append(featureList, "seccomp")
		}
		if reverseBridge != nil && len(reverseBridge.Ports) > 0 {
			featureList = append(featureList, fmt.Sprintf("inbound:%v", reverseBridge.Ports))
		}
		fmt.Fprintf(os.Stderr, "[sandboxrun:linux] sandbox: %s\n", strings.Join(featureList, ", "))
	}

	bwrapCmd := ShellQuote(bwrapArgs)

	if seccompFilterPath != "" {
		return fmt.Sprintf("exec 3<%s; %s", ShellQuoteSingle(seccompFilterPath), bwrapCmd), nil
	}
	return bwrapCmd, nil
}

// PrintLinuxFeatures prints available Linux sandbox features to stdout,
// used by the CLI's --linux-features diagnostic flag.
func PrintLinuxFeatures() {
	features := DetectLinuxFeatures()
	fmt.Printf("Linux Sandbox Features:\n")
	fmt.Printf("  Kernel: %d.%d\n", features.KernelMajor, features.KernelMinor)
	fmt.Printf("  Bubblewrap (bwrap): %v\n", features.HasBwrap)
	fmt.Printf("  Socat: %v\n", features.HasSocat)
	fmt.Printf("  Network namespace (--unshare-net): %v\n", features.CanUnshareNet)
	fmt.Printf("  Seccomp: %v\n", features.HasSeccomp)

	fmt.Printf("\nFeature Status:\n")
	if features.MinimumViable() {
		fmt.Printf("  minimum requirements met (bwrap + socat)\n")
	} else {
		fmt.Printf("  missing requirements: ")
		if !features.HasBwrap {
			fmt.Printf("bwrap ")
		}
		if !features.HasSocat {
			fmt.Printf("socat ")
		}
		fmt.Println()
	}
}
