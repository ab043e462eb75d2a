package policy

import "testing"

func TestNormalizeRejectsSimultaneousDenyAndAllowRead(t *testing.T) {
	_, err := Normalize(Input{
		DenyRead:  []string{"/etc/shadow"},
		AllowRead: []string{"/home/user"},
	})
	if err == nil {
		t.Fatal("expected error for simultaneous denyRead/allowRead, got nil")
	}
}

func TestNormalizeDenyOnlyDefault(t *testing.T) {
	p, err := Normalize(Input{DenyRead: []string{"/etc/shadow", "/etc/shadow"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Read.Mode != ReadDenyOnly {
		t.Errorf("Read.Mode = %v, want ReadDenyOnly", p.Read.Mode)
	}
	if len(p.Read.Deny) != 1 || p.Read.Deny[0] != "/etc/shadow" {
		t.Errorf("Read.Deny = %v, want deduped single entry", p.Read.Deny)
	}
}

func TestNormalizeAllowOnly(t *testing.T) {
	p, err := Normalize(Input{AllowRead: []string{"/home/user"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Read.Mode != ReadAllowOnly {
		t.Errorf("Read.Mode = %v, want ReadAllowOnly", p.Read.Mode)
	}
}

func TestNormalizeUnrestrictedNetworkSkipsNetworkRestriction(t *testing.T) {
	p, err := Normalize(Input{UnrestrictedNetwork: true, AllowedDomains: []string{"example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Unrestricted {
		t.Error("Unrestricted = false, want true")
	}
	if p.Network != nil {
		t.Errorf("Network = %+v, want nil when unrestricted", p.Network)
	}
}

func TestNormalizeEmptyNetworkBlocksAll(t *testing.T) {
	p, err := Normalize(Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Network == nil {
		t.Fatal("Network = nil, want non-nil restriction with empty allowlist")
	}
	if len(p.Network.AllowedHosts) != 0 {
		t.Errorf("AllowedHosts = %v, want empty (blocks all)", p.Network.AllowedHosts)
	}
}

func TestDeriveNetworkRestrictionConfigNilWhenUnrestricted(t *testing.T) {
	p, err := Normalize(Input{UnrestrictedNetwork: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.DeriveNetworkRestrictionConfig(); got != nil {
		t.Errorf("DeriveNetworkRestrictionConfig() = %+v, want nil", got)
	}
}

func TestDeriveNetworkRestrictionConfigNilPolicy(t *testing.T) {
	var p *Policy
	if got := p.DeriveNetworkRestrictionConfig(); got != nil {
		t.Errorf("DeriveNetworkRestrictionConfig() = %+v, want nil for nil policy", got)
	}
}

func TestDeriveNetworkRestrictionConfigEmptyAllowlistIsNotNil(t *testing.T) {
	p, err := Normalize(Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := p.DeriveNetworkRestrictionConfig()
	if got == nil {
		t.Fatal("DeriveNetworkRestrictionConfig() = nil, want non-nil restriction-to-nothing config")
	}
	if got.AllowedHosts != nil {
		t.Errorf("AllowedHosts = %v, want nil", got.AllowedHosts)
	}
	if got.DeniedHosts != nil {
		t.Errorf("DeniedHosts = %v, want nil", got.DeniedHosts)
	}
}

func TestDeriveNetworkRestrictionConfigReflectsHosts(t *testing.T) {
	p, err := Normalize(Input{AllowedDomains: []string{"example.com"}, DeniedDomains: []string{"blocked.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := p.DeriveNetworkRestrictionConfig()
	if got == nil {
		t.Fatal("DeriveNetworkRestrictionConfig() = nil, want non-nil")
	}
	if len(got.AllowedHosts) != 1 || got.AllowedHosts[0] != "example.com" {
		t.Errorf("AllowedHosts = %v, want [example.com]", got.AllowedHosts)
	}
	if len(got.DeniedHosts) != 1 || got.DeniedHosts[0] != "blocked.com" {
		t.Errorf("DeniedHosts = %v, want [blocked.com]", got.DeniedHosts)
	}
}

func TestNetworkHashStableAcrossEquivalentInput(t *testing.T) {
	a, _ := Normalize(Input{AllowedDomains: []string{"b.com", "a.com"}})
	b, _ := Normalize(Input{AllowedDomains: []string{"a.com", "b.com", "a.com"}})
	if a.NetworkHash() != b.NetworkHash() {
		t.Error("NetworkHash should be order- and dedup-insensitive")
	}
}

func TestNetworkHashChangesWithDifferentHosts(t *testing.T) {
	a, _ := Normalize(Input{AllowedDomains: []string{"a.com"}})
	b, _ := Normalize(Input{AllowedDomains: []string{"b.com"}})
	if a.NetworkHash() == b.NetworkHash() {
		t.Error("NetworkHash should differ for different allowed hosts")
	}
}

func TestEqual(t *testing.T) {
	a, _ := Normalize(Input{DenyRead: []string{"/etc/shadow"}})
	b, _ := Normalize(Input{DenyRead: []string{"/etc/shadow"}})
	if !a.Equal(b) {
		t.Error("expected equal policies to compare equal")
	}
	c, _ := Normalize(Input{DenyRead: []string{"/etc/passwd"}})
	if a.Equal(c) {
		t.Error("expected differing policies to compare unequal")
	}
}
