// Package sandboxrun provides a public API for sandboxing commands: load
// or build a policy, obtain a Manager, and wrap a command string for
// execution under the filtering proxy and the platform's process
// isolation primitives.
package sandboxrun

import (
	"github.com/anthropics/sandboxrun/internal/config"
	"github.com/anthropics/sandboxrun/internal/hostmatch"
	"github.com/anthropics/sandboxrun/internal/policy"
	"github.com/anthropics/sandboxrun/internal/sandbox"
)

// ConfigFile is the on-disk configuration shape.
type ConfigFile = config.File

// Network defines network restrictions in a ConfigFile.
type Network = config.Network

// Filesystem defines filesystem restrictions in a ConfigFile.
type Filesystem = config.Filesystem

// Policy is the normalized, immutable restriction set a Manager enforces.
type Policy = policy.Policy

// NetworkRestrictionConfig is the derived, caller-facing view of a
// Policy's network rules, obtained via Manager.GetNetworkRestrictionConfig.
type NetworkRestrictionConfig = policy.NetworkRestrictionConfig

// AskFunc is consulted by a Manager's proxy filter when a host matches
// neither an explicit allow nor an explicit deny rule. See
// Manager.SetAskFunc.
type AskFunc = hostmatch.AskFunc

// Manager handles sandbox initialization, live policy updates, and
// command wrapping.
type Manager = sandbox.Manager

// State is a Manager's lifecycle stage.
type State = sandbox.State

// NewManager creates a new sandbox manager.
// If debug is true, verbose logging is enabled.
// If monitor is true, only violations (blocked requests) are logged.
func NewManager(debug, monitor bool) *Manager {
	return sandbox.NewManager(debug, monitor)
}

// DefaultConfig returns the default configuration with all network blocked.
func DefaultConfig() *ConfigFile {
	return config.Default()
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*ConfigFile, error) {
	return config.Load(path)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}

// NormalizePolicy validates and normalizes a loaded ConfigFile into a
// Policy ready to hand to a Manager. A nil f normalizes like an empty
// config: no network host is allowed, and no read or write rules are added.
func NormalizePolicy(f *ConfigFile) (*Policy, error) {
	return policy.Normalize(f.ToPolicyInput())
}
