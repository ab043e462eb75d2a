package sandbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/anthropics/sandboxrun/internal/pathutil"
	"github.com/anthropics/sandboxrun/internal/policy"
)

// sessionSuffix uniquely tags this process's sandbox profiles so multiple
// concurrent sandboxed processes don't collide in log output.
var sessionSuffix = generateSessionSuffix()

func generateSessionSuffix() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate session suffix: " + err.Error())
	}
	return "_" + hex.EncodeToString(b)[:9] + "_SBX"
}

// MacOSSandboxParams are the inputs to GenerateSandboxProfile.
type MacOSSandboxParams struct {
	Command                 string
	NeedsNetworkRestriction bool
	HTTPProxyPort           int
	SOCKSProxyPort          int
	AllowLocalBinding       bool
	AllowLocalOutbound      bool
	Read                    policy.ReadRestriction
	WriteAllowPaths         []string
	WriteDenyPaths          []string
}

// escapePath escapes a path for embedding in a Seatbelt profile.
func escapePath(path string) string {
	return fmt.Sprintf("%q", path)
}

// getTmpdirParent returns the writable TMPDIR parent on macOS, covering
// both the /var/folders and /private/var/folders forms since Seatbelt
// rules match the literal path the process sees.
func getTmpdirParent() []string {
	tmpdir := os.Getenv("TMPDIR")
	if tmpdir == "" {
		return nil
	}

	pattern := regexp.MustCompile(`^/(private/)?var/folders/[^/]{2}/[^/]+/T/?$`)
	if !pattern.MatchString(tmpdir) {
		return nil
	}

	parent := strings.TrimSuffix(strings.TrimSuffix(tmpdir, "/"), "/T")

	if strings.HasPrefix(parent, "/private/var/") {
		return []string{parent, strings.Replace(parent, "/private", "", 1)}
	} else if strings.HasPrefix(parent, "/var/") {
		return []string{parent, "/private" + parent}
	}
	return []string{parent}
}

// pathRule renders a single allow/deny file-access rule for either a
// literal subpath or, when the pattern contains glob characters, a regex
// match. kind is e.g. "file-read*" or "file-write*".
func pathRule(action, kind, pathPattern, logTag string) []string {
	normalized := pathutil.NormalizePath(pathPattern)
	if pathutil.IsGlob(normalized) {
		regex := pathutil.GlobToRegex(normalized)
		return []string{
			fmt.Sprintf("(%s %s", action, kind),
			fmt.Sprintf("  (regex %s)", escapePath(regex)),
			fmt.Sprintf("  (with message %q))", logTag),
		}
	}
	return []string{
		fmt.Sprintf("(%s %s", action, kind),
		fmt.Sprintf("  (subpath %s)", escapePath(normalized)),
		fmt.Sprintf("  (with message %q))", logTag),
	}
}

// generateMoveBlockingRules denies file-write-unlink on the given patterns
// and on every ancestor directory of their static prefix. Without this, a
// process that cannot read or write a denied path directly could still
// rename one of its ancestor directories to relocate it somewhere
// readable/writable.
func generateMoveBlockingRules(pathPatterns []string, logTag string) []string {
	var rules []string
	for _, pathPattern := range pathPatterns {
		normalized := pathutil.NormalizePath(pathPattern)

		if pathutil.IsGlob(normalized) {
			regex := pathutil.GlobToRegex(normalized)
			rules = append(rules,
				"(deny file-write-unlink",
				fmt.Sprintf("  (regex %s)", escapePath(regex)),
				fmt.Sprintf("  (with message %q))", logTag),
			)
			for _, ancestor := range pathutil.GlobAncestors(normalized) {
				rules = append(rules,
					"(deny file-write-unlink",
					fmt.Sprintf("  (literal %s)", escapePath(ancestor)),
					fmt.Sprintf("  (with message %q))", logTag),
				)
			}
		} else {
			rules = append(rules,
				"(deny file-write-unlink",
				fmt.Sprintf("  (subpath %s)", escapePath(normalized)),
				fmt.Sprintf("  (with message %q))", logTag),
			)
			for _, ancestor := range pathutil.Ancestors(normalized)[1:] {
				rules = append(rules,
					"(deny file-write-unlink",
					fmt.Sprintf("  (literal %s)", escapePath(ancestor)),
					fmt.Sprintf("  (with message %q))", logTag),
				)
			}
		}
	}
	return rules
}

// generateReadRules implements both read modes. DenyOnly allows
// everything by default, then denies specific paths. AllowOnly denies
// everything by default, then allows the implicit system paths plus the
// configured allow paths, then re-denies any deny-within-allow carve-out
// — the same allow-then-deny-within-allow shape generateWriteRules
// already uses for writes, generalized to reads.
func generateReadRules(read policy.ReadRestriction, logTag string) []string {
	var rules []string

	if read.Mode == policy.ReadAllowOnly {
		rules = append(rules, "(deny file-read*)")
		for _, p := range GetImplicitReadPaths() {
			rules = append(rules, pathRule("allow", "file-read*", p, logTag)...)
		}
		for _, p := range read.Allow {
			rules = append(rules, pathRule("allow", "file-read*", p, logTag)...)
		}
		for _, p := range read.DenyWithinAllow {
			rules = append(rules, pathRule("deny", "file-read*", p, logTag)...)
		}
		rules = append(rules, generateMoveBlockingRules(read.DenyWithinAllow, logTag)...)
		return rules
	}

	rules = append(rules, "(allow file-read*)")
	for _, p := range read.Deny {
		rules = append(rules, pathRule("deny", "file-read*", p, logTag)...)
	}
	rules = append(rules, generateMoveBlockingRules(read.Deny, logTag)...)
	return rules
}

// generateWriteRules generates filesystem write rules: TMPDIR is always
// writable, then configured allow paths, then mandatory and configured
// deny-within-allow paths (deny wins within an allowed subtree).
func generateWriteRules(allowPaths, denyPaths []string, logTag string) []string {
	var rules []string

	for _, tmpdirParent := range getTmpdirParent() {
		normalized := pathutil.NormalizePath(tmpdirParent)
		rules = append(rules,
			"(allow file-write*",
			fmt.Sprintf("  (subpath %s)", escapePath(normalized)),
			fmt.Sprintf("  (with message %q))", logTag),
		)
	}

	for _, p := range allowPaths {
		rules = append(rules, pathRule("allow", "file-write*", p, logTag)...)
	}

	cwd, _ := os.Getwd()
	mandatoryDeny := GetMandatoryDenyPatterns(cwd, false)
	allDenyPaths := make([]string, 0, len(denyPaths)+len(mandatoryDeny))
	allDenyPaths = append(allDenyPaths, denyPaths...)
	allDenyPaths = append(allDenyPaths, mandatoryDeny...)

	for _, p := range allDenyPaths {
		rules = append(rules, pathRule("deny", "file-write*", p, logTag)...)
	}
	rules = append(rules, generateMoveBlockingRules(allDenyPaths, logTag)...)

	return rules
}

// GetImplicitReadPaths returns system paths that remain readable even
// under an AllowOnly read restriction with an empty allow list, so the
// shell and dynamic linker keep working.
func GetImplicitReadPaths() []string {
	return []string{
		"/usr/lib",
		"/usr/share",
		"/System/Library",
		"/bin",
		"/usr/bin",
		"/private/etc/hosts",
		"/private/etc/resolv.conf",
		"/dev/null",
		"/dev/zero",
		"/dev/urandom",
		"/dev/random",
	}
}

// GlobToRegex is re-exported for the test suite; the real implementation
// lives in pathutil, shared with the Linux builder.
func GlobToRegex(glob string) string { return pathutil.GlobToRegex(glob) }

// EncodeSandboxedCommand encodes (a prefix of) a command for embedding in
// a Seatbelt profile's log message, where newlines and quotes would
// otherwise break the SBPL parser.
func EncodeSandboxedCommand(command string) string {
	if len(command) > 100 {
		command = command[:100]
	}
	return base64.StdEncoding.EncodeToString([]byte(command))
}

// GenerateSandboxProfile generates a complete Seatbelt profile.
func GenerateSandboxProfile(params MacOSSandboxParams) string {
	logTag := "CMD64_" + EncodeSandboxedCommand(params.Command) + "_END" + sessionSuffix

	var profile strings.Builder
	profile.WriteString("(version 1)\n")
	profile.WriteString(fmt.Sprintf("(deny default (with message %q))\n\n", logTag))
	profile.WriteString(fmt.Sprintf("; LogTag: %s\n\n", logTag))

	profile.WriteString(`; Essential permissions - based on Chrome sandbox policy
(allow process-exec)
(allow process-fork)
(allow process-info* (target same-sandbox))
(allow signal (target same-sandbox))
(allow mach-priv-task-port (target same-sandbox))

(allow user-preference-read)

(allow mach-lookup
  (global-name "com.apple.audio.systemsoundserver")
  (global-name "com.apple.distributed_notifications@Uv3")
  (global-name "com.apple.FontObjectsServer")
  (global-name "com.apple.fonts")
  (global-name "com.apple.logd")
  (global-name "com.apple.lsd.mapdb")
  (global-name "com.apple.PowerManagement.control")
  (global-name "com.apple.system.logger")
  (global-name "com.apple.system.notification_center")
  (global-name "com.apple.trustd.agent")
  (global-name "com.apple.system.opendirectoryd.libinfo")
  (global-name "com.apple.system.opendirectoryd.membership")
  (global-name "com.apple.bsd.dirhelper")
  (global-name "com.apple.securityd.xpc")
  (global-name "com.apple.coreservices.launchservicesd")
  (global-name "com.apple.FSEvents")
  (global-name "com.apple.fseventsd")
  (global-name "com.apple.SystemConfiguration.configd")
)

(allow ipc-posix-shm)
(allow ipc-posix-sem)

(allow iokit-open
  (iokit-registry-entry-class "IOSurfaceRootUserClient")
  (iokit-registry-entry-class "RootDomainUserClient")
  (iokit-user-client-class "IOSurfaceSendRight")
)
(allow iokit-get-properties)

(allow system-socket (require-all (socket-domain AF_SYSTEM) (socket-protocol 2)))

(allow sysctl-read
  (sysctl-name "hw.activecpu")
  (sysctl-name "hw.machine")
  (sysctl-name "hw.memsize")
  (sysctl-name "hw.ncpu")
  (sysctl-name "kern.hostname")
  (sysctl-name "kern.osproductversion")
  (sysctl-name "kern.osrelease")
  (sysctl-name "kern.ostype")
  (sysctl-name "kern.osversion")
  (sysctl-name "kern.version")
  (sysctl-name "machdep.cpu.brand_string")
  (sysctl-name-prefix "hw.optional.arm")
  (sysctl-name-prefix "kern.proc.pid.")
  (sysctl-name-prefix "machdep.cpu.")
)

(allow distributed-notification-post)
(allow mach-lookup (global-name "com.apple.SecurityServer"))

(allow file-ioctl (literal "/dev/null"))
(allow file-ioctl (literal "/dev/zero"))
(allow file-ioctl (literal "/dev/random"))
(allow file-ioctl (literal "/dev/urandom"))
(allow file-ioctl (literal "/dev/dtracehelper"))
(allow file-ioctl (literal "/dev/tty"))

(allow file-ioctl file-read-data file-write-data
  (require-all
    (literal "/dev/null")
    (vnode-type CHARACTER-DEVICE)
  )
)

`)

	profile.WriteString("; Network\n")
	if !params.NeedsNetworkRestriction {
		profile.WriteString("(allow network*)\n")
	} else {
		if params.AllowLocalBinding {
			profile.WriteString(`(allow network-bind (local ip "localhost:*"))
(allow network-inbound (local ip "localhost:*"))
`)
			if params.AllowLocalOutbound {
				profile.WriteString(`(allow network-outbound (local ip "localhost:*"))
`)
			}
		}
		if params.HTTPProxyPort > 0 {
			profile.WriteString(fmt.Sprintf(`(allow network-bind (local ip "localhost:%d"))
(allow network-inbound (local ip "localhost:%d"))
(allow network-outbound (remote ip "localhost:%d"))
`, params.HTTPProxyPort, params.HTTPProxyPort, params.HTTPProxyPort))
		}
		if params.SOCKSProxyPort > 0 {
			profile.WriteString(fmt.Sprintf(`(allow network-bind (local ip "localhost:%d"))
(allow network-inbound (local ip "localhost:%d"))
(allow network-outbound (remote ip "localhost:%d"))
`, params.SOCKSProxyPort, params.SOCKSProxyPort, params.SOCKSProxyPort))
		}
	}
	profile.WriteString("\n")

	profile.WriteString("; File read\n")
	for _, rule := range generateReadRules(params.Read, logTag) {
		profile.WriteString(rule + "\n")
	}
	profile.WriteString("\n")

	profile.WriteString("; File write\n")
	for _, rule := range generateWriteRules(params.WriteAllowPaths, params.WriteDenyPaths, logTag) {
		profile.WriteString(rule + "\n")
	}

	profile.WriteString(`
; Pseudo-terminal support
(allow pseudo-tty)
(allow file-ioctl
  (literal "/dev/ptmx")
  (regex #"^/dev/ttys")
)
(allow file-read* file-write*
  (literal "/dev/ptmx")
  (regex #"^/dev/ttys")
)
`)

	return profile.String()
}

// WrapCommandMacOS wraps command with a Seatbelt profile enforcing p.
func WrapCommandMacOS(p *policy.Policy, command string, httpPort, socksPort int, exposedPorts []int, debug bool) (string, error) {
	needsNetwork := true
	allowLocalBinding := len(exposedPorts) > 0
	allowLocalOutbound := allowLocalBinding

	if p != nil && p.Unrestricted {
		needsNetwork = false
	}

	var writeAllow, writeDeny []string
	if p != nil && p.Write != nil {
		writeAllow = p.Write.Allow
		writeDeny = p.Write.DenyWithinAllow
	}
	allowPaths := append(GetDefaultWritePaths(), writeAllow...)

	read := policy.ReadRestriction{Mode: policy.ReadDenyOnly}
	if p != nil {
		read = p.Read
	}

	params := MacOSSandboxParams{
		Command:                 command,
		NeedsNetworkRestriction: needsNetwork,
		HTTPProxyPort:           httpPort,
		SOCKSProxyPort:          socksPort,
		AllowLocalBinding:       allowLocalBinding,
		AllowLocalOutbound:      allowLocalOutbound,
		Read:                    read,
		WriteAllowPaths:         allowPaths,
		WriteDenyPaths:          writeDeny,
	}

	if debug && len(exposedPorts) > 0 {
		fmt.Fprintf(os.Stderr, "[sandboxrun:macos] enabling local binding for exposed ports: %v\n", exposedPorts)
	}

	profile := GenerateSandboxProfile(params)

	shellPath, err := exec.LookPath("bash")
	if err != nil {
		return "", fmt.Errorf("shell %q not found: %w", "bash", err)
	}

	// An unrestricted policy sends traffic directly, not via the proxy.
	proxyEnvs := GenerateProxyEnvVars(0, 0)
	if needsNetwork {
		proxyEnvs = GenerateProxyEnvVars(httpPort, socksPort)
	}

	var parts []string
	parts = append(parts, "env")
	parts = append(parts, proxyEnvs...)
	parts = append(parts, "sandbox-exec", "-p", profile, shellPath, "-c", command)

	return ShellQuote(parts), nil
}
