package sandbox

import (
	"strings"
	"testing"

	"github.com/anthropics/sandboxrun/internal/policy"
)

func TestMacOS_UnrestrictedNetworkAllowsAll(t *testing.T) {
	p, err := policy.Normalize(policy.Input{UnrestrictedNetwork: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := macOSParamsForTest(p)
	if params.NeedsNetworkRestriction {
		t.Error("NeedsNetworkRestriction = true, want false for unrestricted policy")
	}

	profile := GenerateSandboxProfile(params)
	if !strings.Contains(profile, "(allow network*)") {
		t.Errorf("expected unrestricted profile to contain '(allow network*)', got:\n%s", profile)
	}
}

func TestMacOS_RestrictedNetworkDoesNotAllowAll(t *testing.T) {
	p, err := policy.Normalize(policy.Input{AllowedDomains: []string{"api.example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := macOSParamsForTest(p)
	if !params.NeedsNetworkRestriction {
		t.Error("NeedsNetworkRestriction = false, want true for restricted policy")
	}

	profile := GenerateSandboxProfile(params)
	if strings.Contains(profile, "(allow network*)") {
		t.Error("restricted profile should not contain blanket '(allow network*)'")
	}
	if !strings.Contains(profile, "; Network") {
		t.Error("profile should contain the Network section header")
	}
}

func TestMacOS_EmptyAllowedDomainsStillRestricted(t *testing.T) {
	p, err := policy.Normalize(policy.Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := macOSParamsForTest(p)
	if !params.NeedsNetworkRestriction {
		t.Error("NeedsNetworkRestriction = false, want true: an empty allowlist blocks all network")
	}
}

func TestMacOS_AllowOnlyReadExposesOnlyImplicitAndAllowedPaths(t *testing.T) {
	p, err := policy.Normalize(policy.Input{AllowRead: []string{"/home/user/project"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := macOSParamsForTest(p)
	profile := GenerateSandboxProfile(params)

	if !strings.Contains(profile, "(deny file-read*)") {
		t.Errorf("AllowOnly profile should deny reads by default, got:\n%s", profile)
	}
	if !strings.Contains(profile, `"/home/user/project"`) {
		t.Error("expected allowed read path to appear in the profile")
	}
	for _, implicit := range GetImplicitReadPaths() {
		if !strings.Contains(profile, implicit) {
			t.Errorf("expected implicit read path %q in AllowOnly profile", implicit)
		}
	}
}

func TestMacOS_DenyOnlyReadAllowsByDefault(t *testing.T) {
	p, err := policy.Normalize(policy.Input{DenyRead: []string{"/etc/shadow"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := macOSParamsForTest(p)
	profile := GenerateSandboxProfile(params)

	if !strings.Contains(profile, "(allow file-read*)") {
		t.Errorf("DenyOnly profile should allow reads by default, got:\n%s", profile)
	}
	if !strings.Contains(profile, `"/etc/shadow"`) {
		t.Error("expected denied read path to appear in the profile")
	}
}

func TestMacOS_RenameBypassBlockedForDeniedPath(t *testing.T) {
	p, err := policy.Normalize(policy.Input{DenyRead: []string{"/t/denied"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := macOSParamsForTest(p)
	profile := GenerateSandboxProfile(params)

	if !strings.Contains(profile, "file-write-unlink") {
		t.Error("expected profile to block file-write-unlink on denied paths and ancestors")
	}
}

// macOSParamsForTest mirrors the param-building logic in WrapCommandMacOS
// without requiring a shell lookup, so profile contents can be tested
// independent of the host environment.
func macOSParamsForTest(p *policy.Policy) MacOSSandboxParams {
	needsNetwork := true
	if p != nil && p.Unrestricted {
		needsNetwork = false
	}

	var writeAllow, writeDeny []string
	if p != nil && p.Write != nil {
		writeAllow = p.Write.Allow
		writeDeny = p.Write.DenyWithinAllow
	}

	read := policy.ReadRestriction{Mode: policy.ReadDenyOnly}
	if p != nil {
		read = p.Read
	}

	return MacOSSandboxParams{
		Command:                 "echo test",
		NeedsNetworkRestriction: needsNetwork,
		HTTPProxyPort:           8080,
		SOCKSProxyPort:          1080,
		Read:                    read,
		WriteAllowPaths:         append(GetDefaultWritePaths(), writeAllow...),
		WriteDenyPaths:          writeDeny,
	}
}
