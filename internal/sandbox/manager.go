package sandbox

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/anthropics/sandboxrun/internal/hostmatch"
	"github.com/anthropics/sandboxrun/internal/platform"
	"github.com/anthropics/sandboxrun/internal/policy"
	"github.com/anthropics/sandboxrun/internal/proxy"
	"github.com/anthropics/sandboxrun/internal/violations"
)

// State is a Manager's lifecycle stage. A Manager only moves forward
// through these states; Reset is terminal.
type State int

const (
	// Uninitialized: NewManager has run but no policy has been set yet.
	Uninitialized State = iota
	// Configured: a policy has been set but the proxies aren't listening
	// yet, so WrapCommand hasn't been called.
	Configured
	// Active: the proxies are listening and (on Linux) the bridges are up.
	Active
	// Reset: Cleanup has run; the Manager must not be reused.
	Reset
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Active:
		return "active"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Manager handles sandbox initialization, live policy updates, and
// command wrapping. It is safe for concurrent use. The live policy is an
// atomic pointer, but WrapCommand first takes the manager mutex to read the
// proxy ports and bridges, so it waits for an UpdateConfig in progress.
type Manager struct {
	mu            sync.Mutex
	state         State
	policy        atomic.Pointer[policy.Policy]
	violations    *violations.Store
	httpProxy     *proxy.HTTPProxy
	socksProxy    *proxy.SOCKSProxy
	linuxBridge   *LinuxBridge
	reverseBridge *ReverseBridge
	httpPort      int
	socksPort     int
	exposedPorts  []int
	ask           hostmatch.AskFunc
	debug         bool
	monitor       bool
}

// NewManager creates a sandbox manager in the Uninitialized state. Call
// UpdateConfig to supply the first policy before Initialize or
// WrapCommand.
func NewManager(debug, monitor bool) *Manager {
	return &Manager{
		state:      Uninitialized,
		violations: violations.NewStore(0),
		debug:      debug,
		monitor:    monitor,
	}
}

// Violations returns the Manager's violation store, for subscribers that
// want to observe denied operations as they happen.
func (m *Manager) Violations() *violations.Store {
	return m.violations
}

// SetExposedPorts sets the ports to expose for inbound connections. Must
// be called before Initialize.
func (m *Manager) SetExposedPorts(ports []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposedPorts = ports
}

// SetAskFunc installs the callback consulted when a host matches neither
// an explicit allow nor an explicit deny rule (see hostmatch.AskFunc). Pass
// nil (the default) to fail closed on that case instead. Takes effect on
// the next filter derivation: immediately if already Active, otherwise at
// Initialize.
func (m *Manager) SetAskFunc(ask hostmatch.AskFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ask = ask

	if m.state == Active {
		p := m.currentPolicy()
		filter := proxy.CreateDomainFilter(p, m.ask, m.debug)
		if m.httpProxy != nil {
			m.httpProxy.SetFilter(filter)
		}
		if m.socksProxy != nil {
			m.socksProxy.SetFilter(filter)
		}
	}
}

// UpdateConfig installs a new policy. Before the proxies are listening
// this just stores the pending policy (advancing Uninitialized to
// Configured); once Active, it swaps the live policy snapshot in place,
// so in-flight connections keep evaluating against whichever policy was
// current when they started, and every new connection sees the update
// immediately.
func (m *Manager) UpdateConfig(p *policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Reset {
		return fmt.Errorf("sandboxrun: cannot update config on a reset manager")
	}

	prev := m.policy.Load()
	m.policy.Store(p)

	if m.state == Uninitialized {
		m.state = Configured
		return nil
	}

	if m.state == Active && (prev == nil || !prev.Equal(p)) {
		filter := proxy.CreateDomainFilter(p, m.ask, m.debug)
		if m.httpProxy != nil {
			m.httpProxy.SetFilter(filter)
		}
		if m.socksProxy != nil {
			m.socksProxy.SetFilter(filter)
		}
		m.logDebug("policy updated, proxy ports unchanged (http=%d, socks=%d)", m.httpPort, m.socksPort)
	}
	return nil
}

// currentPolicy returns the live policy, defaulting to the policy an empty
// Input normalizes to (no network host allowed) if none has been set yet.
func (m *Manager) currentPolicy() *policy.Policy {
	if p := m.policy.Load(); p != nil {
		return p
	}
	p, _ := policy.Normalize(policy.Input{})
	return p
}

// Initialize sets up the sandbox infrastructure (proxies, bridges). A
// policy must already be set via UpdateConfig.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.state == Active {
		return nil
	}
	if m.state == Reset {
		return fmt.Errorf("sandboxrun: cannot initialize a reset manager")
	}

	if !platform.IsSupported() {
		return fmt.Errorf("sandbox is not supported on platform: %s", platform.Detect())
	}

	p := m.currentPolicy()
	filter := proxy.CreateDomainFilter(p, m.ask, m.debug)

	m.httpProxy = proxy.NewHTTPProxy(filter, m.violations, m.debug, m.monitor)
	httpPort, err := m.httpProxy.Start()
	if err != nil {
		return fmt.Errorf("failed to start HTTP proxy: %w", err)
	}
	m.httpPort = httpPort

	m.socksProxy = proxy.NewSOCKSProxy(filter, m.violations, m.debug, m.monitor)
	socksPort, err := m.socksProxy.Start()
	if err != nil {
		m.httpProxy.Stop()
		return fmt.Errorf("failed to start SOCKS proxy: %w", err)
	}
	m.socksPort = socksPort

	plat := platform.Detect()
	if plat == platform.Linux || plat == platform.WSL {
		// An unrestricted policy grants direct network access with no
		// filtering, so there's nothing for the proxy bridge to route:
		// skip it entirely, mirroring the macOS builder's unrestricted
		// path, which never references the proxy either.
		if !p.Unrestricted {
			bridge, err := NewLinuxBridge(m.httpPort, m.socksPort, m.debug)
			if err != nil {
				m.httpProxy.Stop()
				m.socksProxy.Stop()
				return fmt.Errorf("failed to initialize Linux bridge: %w", err)
			}
			m.linuxBridge = bridge
		}

		if len(m.exposedPorts) > 0 {
			reverseBridge, err := NewReverseBridge(m.exposedPorts, m.debug)
			if err != nil {
				if m.linuxBridge != nil {
					m.linuxBridge.Cleanup()
				}
				m.httpProxy.Stop()
				m.socksProxy.Stop()
				return fmt.Errorf("failed to initialize reverse bridge: %w", err)
			}
			m.reverseBridge = reverseBridge
		}
	}

	m.state = Active
	m.logDebug("Sandbox manager initialized (HTTP proxy: %d, SOCKS proxy: %d)", m.httpPort, m.socksPort)
	return nil
}

// WrapCommand wraps a command with sandbox restrictions for the current
// live policy.
func (m *Manager) WrapCommand(command string) (string, error) {
	m.mu.Lock()
	if m.state != Active {
		if err := m.initializeLocked(); err != nil {
			m.mu.Unlock()
			return "", err
		}
	}
	httpPort, socksPort, exposedPorts := m.httpPort, m.socksPort, m.exposedPorts
	linuxBridge, reverseBridge := m.linuxBridge, m.reverseBridge
	m.mu.Unlock()

	p := m.currentPolicy()

	plat := platform.Detect()
	switch plat {
	case platform.MacOS:
		return WrapCommandMacOS(p, command, httpPort, socksPort, exposedPorts, m.debug)
	case platform.Linux, platform.WSL:
		return WrapCommandLinux(p, command, linuxBridge, reverseBridge, m.debug)
	default:
		return "", fmt.Errorf("unsupported platform: %s", plat)
	}
}

// Cleanup stops the proxies and cleans up resources, moving the Manager
// to the terminal Reset state.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reverseBridge != nil {
		m.reverseBridge.Cleanup()
	}
	if m.linuxBridge != nil {
		m.linuxBridge.Cleanup()
	}
	if m.httpProxy != nil {
		m.httpProxy.Stop()
	}
	if m.socksProxy != nil {
		m.socksProxy.Stop()
	}
	m.state = Reset
	m.logDebug("Sandbox manager cleaned up")
}

func (m *Manager) logDebug(format string, args ...interface{}) {
	if m.debug {
		fmt.Fprintf(os.Stderr, "[sandboxrun] "+format+"\n", args...)
	}
}

// State returns the Manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetConfig returns the currently installed policy, or nil if
// UpdateConfig has never been called. Unlike currentPolicy, this never
// substitutes a synthetic deny-all policy: callers need to tell "no
// policy configured yet" apart from "a policy that denies everything".
func (m *Manager) GetConfig() *policy.Policy {
	return m.policy.Load()
}

// GetNetworkRestrictionConfig returns the derived network-restriction
// view of the current policy (see policy.Policy.DeriveNetworkRestrictionConfig),
// or nil if no policy is configured or the configured policy is
// unrestricted.
func (m *Manager) GetNetworkRestrictionConfig() *policy.NetworkRestrictionConfig {
	return m.policy.Load().DeriveNetworkRestrictionConfig()
}

// HTTPPort returns the HTTP proxy port.
func (m *Manager) HTTPPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.httpPort
}

// SOCKSPort returns the SOCKS proxy port.
func (m *Manager) SOCKSPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socksPort
}
