package sandbox

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/anthropics/sandboxrun/internal/policy"
)

func TestManagerStartsUninitialized(t *testing.T) {
	m := NewManager(false, false)
	if m.State() != Uninitialized {
		t.Errorf("State() = %v, want %v", m.State(), Uninitialized)
	}
}

func TestManagerUpdateConfigAdvancesToConfigured(t *testing.T) {
	m := NewManager(false, false)
	p, err := policy.Normalize(policy.Input{UnrestrictedNetwork: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if m.State() != Configured {
		t.Errorf("State() = %v, want %v", m.State(), Configured)
	}
}

func TestManagerUpdateConfigRejectedAfterReset(t *testing.T) {
	m := NewManager(false, false)
	m.Cleanup()
	if m.State() != Reset {
		t.Fatalf("State() = %v, want %v", m.State(), Reset)
	}

	p, err := policy.Normalize(policy.Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p); err == nil {
		t.Error("expected UpdateConfig() to fail on a reset manager")
	}
}

func TestManagerCurrentPolicyDefaultsToDenyAll(t *testing.T) {
	m := NewManager(false, false)
	p := m.currentPolicy()
	if p.Unrestricted {
		t.Error("expected default policy to not be unrestricted")
	}
	if p.Network == nil || len(p.Network.AllowedHosts) != 0 {
		t.Error("expected default policy to allow no hosts")
	}
}

func TestManagerGetConfigNilUntilConfigured(t *testing.T) {
	m := NewManager(false, false)
	if got := m.GetConfig(); got != nil {
		t.Errorf("GetConfig() = %v, want nil before UpdateConfig", got)
	}
	if got := m.GetNetworkRestrictionConfig(); got != nil {
		t.Errorf("GetNetworkRestrictionConfig() = %v, want nil before UpdateConfig", got)
	}

	p, err := policy.Normalize(policy.Input{AllowedDomains: []string{"example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	if got := m.GetConfig(); got == nil {
		t.Fatal("GetConfig() = nil, want the configured policy")
	}

	nrc := m.GetNetworkRestrictionConfig()
	if nrc == nil {
		t.Fatal("GetNetworkRestrictionConfig() = nil, want a restriction config")
	}
	if len(nrc.AllowedHosts) != 1 || nrc.AllowedHosts[0] != "example.com" {
		t.Errorf("AllowedHosts = %v, want [example.com]", nrc.AllowedHosts)
	}
	if nrc.DeniedHosts != nil {
		t.Errorf("DeniedHosts = %v, want nil", nrc.DeniedHosts)
	}
}

func TestManagerGetNetworkRestrictionConfigNilWhenUnrestricted(t *testing.T) {
	m := NewManager(false, false)
	p, err := policy.Normalize(policy.Input{UnrestrictedNetwork: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if got := m.GetNetworkRestrictionConfig(); got != nil {
		t.Errorf("GetNetworkRestrictionConfig() = %v, want nil for an unrestricted policy", got)
	}
	if got := m.GetConfig(); got == nil {
		t.Error("GetConfig() = nil, want the unrestricted policy itself")
	}
}

func TestManagerSetAskFuncSwapsLiveFilter(t *testing.T) {
	if runtime.GOOS == "linux" {
		if _, err := exec.LookPath("socat"); err != nil {
			t.Skip("skipping: socat not found")
		}
	}

	m := NewManager(false, false)
	p, err := policy.Normalize(policy.Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer m.Cleanup()

	called := make(chan struct{}, 1)
	m.SetAskFunc(func(ctx context.Context, host string, port int) <-chan bool {
		called <- struct{}{}
		ch := make(chan bool, 1)
		ch <- true
		return ch
	})

	if m.State() != Active {
		t.Fatalf("State() = %v, want %v", m.State(), Active)
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", m.HTTPPort()))
	if err != nil {
		t.Fatalf("dial HTTP proxy: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "CONNECT unlisted.invalid:443 HTTP/1.1\r\nHost: unlisted.invalid:443\r\n\r\n")

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Error("live proxy filter did not consult the AskFunc installed by SetAskFunc")
	}
}

func TestManagerUpdateConfigKeepsProxyPortsStable(t *testing.T) {
	if runtime.GOOS == "linux" {
		if _, err := exec.LookPath("socat"); err != nil {
			t.Skip("skipping: socat not found")
		}
	}

	m := NewManager(false, false)
	p1, err := policy.Normalize(policy.Input{AllowedDomains: []string{"example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p1); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer m.Cleanup()

	httpPort, socksPort := m.HTTPPort(), m.SOCKSPort()
	if httpPort == 0 || socksPort == 0 {
		t.Fatalf("expected nonzero proxy ports after Initialize, got http=%d socks=%d", httpPort, socksPort)
	}

	p2, err := policy.Normalize(policy.Input{AllowedDomains: []string{"example.com", "other.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateConfig(p2); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	if m.HTTPPort() != httpPort {
		t.Errorf("HTTPPort() changed after UpdateConfig: got %d, want %d", m.HTTPPort(), httpPort)
	}
	if m.SOCKSPort() != socksPort {
		t.Errorf("SOCKSPort() changed after UpdateConfig: got %d, want %d", m.SOCKSPort(), socksPort)
	}
	if m.State() != Active {
		t.Errorf("State() = %v, want %v", m.State(), Active)
	}
}
