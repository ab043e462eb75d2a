// Package config loads the external JSONC configuration shape and hands
// it to internal/policy for validation and normalization. It is a thin
// collaborator: schema validation here is shape- and pattern-level only,
// the interesting normalization work happens in internal/policy.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/anthropics/sandboxrun/internal/policy"
	"github.com/tidwall/jsonc"
)

// Network defines network restrictions.
type Network struct {
	AllowedDomains      []string `json:"allowedDomains"`
	DeniedDomains       []string `json:"deniedDomains"`
	UnrestrictedNetwork bool     `json:"unrestrictedNetwork,omitempty"`
}

// Filesystem defines filesystem restrictions.
type Filesystem struct {
	DenyRead            []string `json:"denyRead,omitempty"`
	AllowRead           []string `json:"allowRead,omitempty"`
	DenyReadWithinAllow []string `json:"denyReadWithinAllow,omitempty"`
	AllowWrite          []string `json:"allowWrite"`
	DenyWrite           []string `json:"denyWrite"`
}

// File is the on-disk configuration shape.
type File struct {
	Network    Network    `json:"network"`
	Filesystem Filesystem `json:"filesystem"`
}

// Default returns the default configuration with all network blocked.
func Default() *File {
	return &File{
		Network: Network{
			AllowedDomains: []string{},
			DeniedDomains:  []string{},
		},
		Filesystem: Filesystem{
			DenyRead:   []string{},
			AllowWrite: []string{},
			DenyWrite:  []string{},
		},
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sandboxrun.json"
	}
	return filepath.Join(home, ".sandboxrun.json")
}

// Load loads configuration from a file path. A missing or empty file
// returns (nil, nil), matching the teacher's "no config = use defaults
// upstream" convention.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path - intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var f File
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("invalid JSON in config file: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &f, nil
}

// Validate checks shape-level constraints: pattern syntax, no empty
// entries. Semantic validation (e.g. simultaneous denyRead/allowRead)
// is deferred to policy.Normalize.
func (f *File) Validate() error {
	for _, domain := range f.Network.AllowedDomains {
		if err := validateDomainPattern(domain); err != nil {
			return fmt.Errorf("invalid allowed domain %q: %w", domain, err)
		}
	}
	for _, domain := range f.Network.DeniedDomains {
		if err := validateDomainPattern(domain); err != nil {
			return fmt.Errorf("invalid denied domain %q: %w", domain, err)
		}
	}

	if slices.Contains(f.Filesystem.DenyRead, "") {
		return errors.New("filesystem.denyRead contains empty path")
	}
	if slices.Contains(f.Filesystem.AllowRead, "") {
		return errors.New("filesystem.allowRead contains empty path")
	}
	if slices.Contains(f.Filesystem.DenyReadWithinAllow, "") {
		return errors.New("filesystem.denyReadWithinAllow contains empty path")
	}
	if slices.Contains(f.Filesystem.AllowWrite, "") {
		return errors.New("filesystem.allowWrite contains empty path")
	}
	if slices.Contains(f.Filesystem.DenyWrite, "") {
		return errors.New("filesystem.denyWrite contains empty path")
	}

	return nil
}

// ToPolicyInput converts the loaded shape into a policy.Input ready for
// policy.Normalize.
func (f *File) ToPolicyInput() policy.Input {
	if f == nil {
		return policy.Input{}
	}
	return policy.Input{
		DenyRead:            f.Filesystem.DenyRead,
		AllowRead:           f.Filesystem.AllowRead,
		DenyReadWithinAllow: f.Filesystem.DenyReadWithinAllow,
		AllowWrite:          f.Filesystem.AllowWrite,
		DenyWrite:           f.Filesystem.DenyWrite,
		AllowedDomains:      f.Network.AllowedDomains,
		DeniedDomains:       f.Network.DeniedDomains,
		UnrestrictedNetwork: f.Network.UnrestrictedNetwork,
	}
}

func validateDomainPattern(pattern string) error {
	if pattern == "*" {
		return nil
	}
	if pattern == "localhost" {
		return nil
	}

	if domain, port, hasPort := splitDomainPort(pattern); hasPort {
		if port < 1 || port > 65535 {
			return errors.New("invalid port in domain pattern")
		}
		pattern = domain
		if pattern == "*" {
			return nil
		}
	}

	if strings.Contains(pattern, "://") || strings.Contains(pattern, "/") || strings.Contains(pattern, ":") {
		return errors.New("domain pattern cannot contain protocol or path")
	}

	if strings.HasPrefix(pattern, "*.") {
		domain := pattern[2:]
		if !strings.Contains(domain, ".") {
			return errors.New("wildcard pattern too broad (e.g., *.com not allowed)")
		}
		if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
			return errors.New("invalid domain format")
		}
		parts := strings.Split(domain, ".")
		if len(parts) < 2 {
			return errors.New("wildcard pattern too broad")
		}
		if slices.Contains(parts, "") {
			return errors.New("invalid domain format")
		}
		return nil
	}

	if strings.Contains(pattern, "*") {
		return errors.New("only *.domain.com wildcard patterns are allowed")
	}

	if !strings.Contains(pattern, ".") || strings.HasPrefix(pattern, ".") || strings.HasSuffix(pattern, ".") {
		return errors.New("invalid domain format")
	}

	return nil
}

// splitDomainPort splits a "host" or "host:port" pattern into its domain
// and (if present) numeric port, mirroring hostmatch.MatchesHostPort's
// notion of when a pattern carries a port.
func splitDomainPort(pattern string) (domain string, port int, hasPort bool) {
	idx := strings.LastIndex(pattern, ":")
	if idx < 0 {
		return pattern, 0, false
	}
	portStr := pattern[idx+1:]
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return pattern, 0, false
	}
	return pattern[:idx], p, true
}
