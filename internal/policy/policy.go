// Package policy defines the in-memory restriction model a sandbox is
// enforced against, and normalizes the external config shape (see
// internal/config) into it.
package policy

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// ErrConfigInvalid is returned when a config cannot be normalized into a
// valid Policy, e.g. simultaneous denyRead and allowRead.
var ErrConfigInvalid = errors.New("sandboxrun: invalid configuration")

// ReadMode selects how Read restrictions are interpreted.
type ReadMode int

const (
	// ReadDenyOnly allows everything except the listed deny patterns.
	ReadDenyOnly ReadMode = iota
	// ReadAllowOnly denies everything except the listed allow patterns
	// (plus the implicit system-path allowlist) and any deny-within-allow
	// carve-outs.
	ReadAllowOnly
)

// ReadRestriction describes which paths a sandboxed process may read.
type ReadRestriction struct {
	Mode            ReadMode
	Deny            []string // used when Mode == ReadDenyOnly
	Allow           []string // used when Mode == ReadAllowOnly
	DenyWithinAllow []string // used when Mode == ReadAllowOnly
}

// WriteRestriction describes which paths a sandboxed process may write.
// A nil *WriteRestriction on Policy adds no write rules of its own; it does
// not make the filesystem writable: the platform wrappers still confine
// writes to their built-in writable paths (see sandbox.GetDefaultWritePaths).
type WriteRestriction struct {
	Allow           []string
	DenyWithinAllow []string
}

// NetworkRestriction describes which hosts a sandboxed process may reach.
// Network access is unrestricted only when Policy.Unrestricted is set; a
// nil *NetworkRestriction on a Policy that is not Unrestricted allows no
// host.
type NetworkRestriction struct {
	AllowedHosts []string
	DeniedHosts  []string
}

// Policy is the fully normalized restriction set a sandbox enforces.
// It is immutable once constructed; Manager swaps whole Policy values
// rather than mutating one in place.
type Policy struct {
	Read         ReadRestriction
	Write        *WriteRestriction
	Network      *NetworkRestriction
	Unrestricted bool
}

// NetworkRestrictionConfig is the derived, caller-facing view of a
// Policy's network rules. It only exists when the policy actually
// restricts network access: an unrestricted policy (or no policy at
// all) derives a nil *NetworkRestrictionConfig, never a non-nil one
// with empty fields, so callers can tell "no restriction" apart from
// "restricted, but the allow/deny lists happen to be empty" (the
// latter still means deny-all, since an empty allowlist allows
// nothing).
type NetworkRestrictionConfig struct {
	AllowedHosts []string
	DeniedHosts  []string
}

// DeriveNetworkRestrictionConfig builds the caller-facing network view
// for p, or nil if there is no network restriction to report (p is nil
// or unrestricted). AllowedHosts/DeniedHosts are nil rather than
// empty slices when the underlying policy has no entries, since
// dedupSorted already normalizes empty input to nil.
func (p *Policy) DeriveNetworkRestrictionConfig() *NetworkRestrictionConfig {
	if p == nil || p.Unrestricted {
		return nil
	}
	cfg := &NetworkRestrictionConfig{}
	if p.Network != nil {
		cfg.AllowedHosts = p.Network.AllowedHosts
		cfg.DeniedHosts = p.Network.DeniedHosts
	}
	return cfg
}

// Input is the normalized-but-not-yet-validated shape that a loader (JSON,
// flags, programmatic construction) populates before calling Normalize.
// It mirrors the external config fields the sandbox cares about.
type Input struct {
	DenyRead            []string
	AllowRead           []string
	DenyReadWithinAllow []string

	AllowWrite []string
	DenyWrite  []string

	AllowedDomains      []string
	DeniedDomains       []string
	UnrestrictedNetwork bool
}

// Normalize converts an Input into a validated Policy. It rejects
// simultaneous DenyRead and AllowRead entries: a config that specifies
// both modes at once is ambiguous about which one should win, so we fail
// closed rather than silently preferring one.
func Normalize(in Input) (*Policy, error) {
	hasDeny := len(in.DenyRead) > 0
	hasAllow := len(in.AllowRead) > 0
	if hasDeny && hasAllow {
		return nil, fmt.Errorf("%w: denyRead and allowRead cannot both be set", ErrConfigInvalid)
	}

	p := &Policy{}

	if hasAllow {
		p.Read = ReadRestriction{
			Mode:            ReadAllowOnly,
			Allow:           dedupSorted(in.AllowRead),
			DenyWithinAllow: dedupSorted(in.DenyReadWithinAllow),
		}
	} else {
		p.Read = ReadRestriction{
			Mode: ReadDenyOnly,
			Deny: dedupSorted(in.DenyRead),
		}
	}

	if len(in.AllowWrite) > 0 || len(in.DenyWrite) > 0 {
		p.Write = &WriteRestriction{
			Allow:           dedupSorted(in.AllowWrite),
			DenyWithinAllow: dedupSorted(in.DenyWrite),
		}
	}

	if in.UnrestrictedNetwork {
		p.Unrestricted = true
	} else {
		p.Network = &NetworkRestriction{
			AllowedHosts: dedupSorted(in.AllowedDomains),
			DeniedHosts:  dedupSorted(in.DeniedDomains),
		}
	}

	return p, nil
}

// NetworkHash returns a structural hash over the network-relevant fields
// of the policy. Policies with the same network rules hash equally, so a
// caller can use it to tell whether an update changed network behavior.
// Manager.UpdateConfig does not use it; it compares whole policies with
// Equal.
func (p *Policy) NetworkHash() uint64 {
	h := fnv.New64a()
	if p.Unrestricted {
		h.Write([]byte{1})
		return h.Sum64()
	}
	h.Write([]byte{0})
	if p.Network != nil {
		for _, host := range p.Network.AllowedHosts {
			h.Write([]byte("a:"))
			h.Write([]byte(host))
			h.Write([]byte{0})
		}
		for _, host := range p.Network.DeniedHosts {
			h.Write([]byte("d:"))
			h.Write([]byte(host))
			h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// Equal reports whether two policies are structurally identical.
func (p *Policy) Equal(other *Policy) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Unrestricted != other.Unrestricted {
		return false
	}
	if p.Read.Mode != other.Read.Mode ||
		!slicesEqual(p.Read.Deny, other.Read.Deny) ||
		!slicesEqual(p.Read.Allow, other.Read.Allow) ||
		!slicesEqual(p.Read.DenyWithinAllow, other.Read.DenyWithinAllow) {
		return false
	}
	if (p.Write == nil) != (other.Write == nil) {
		return false
	}
	if p.Write != nil {
		if !slicesEqual(p.Write.Allow, other.Write.Allow) ||
			!slicesEqual(p.Write.DenyWithinAllow, other.Write.DenyWithinAllow) {
			return false
		}
	}
	if (p.Network == nil) != (other.Network == nil) {
		return false
	}
	if p.Network != nil {
		if !slicesEqual(p.Network.AllowedHosts, other.Network.AllowedHosts) ||
			!slicesEqual(p.Network.DeniedHosts, other.Network.DeniedHosts) {
			return false
		}
	}
	return true
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
