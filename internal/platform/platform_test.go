package platform

import "testing"

func TestDetectReturnsKnownPlatform(t *testing.T) {
	p := Detect()
	switch p {
	case MacOS, Linux, WSL, Other:
	default:
		t.Fatalf("Detect() returned unrecognized platform %q", p)
	}
}

func TestIsSupportedMatchesDetect(t *testing.T) {
	switch Detect() {
	case MacOS, Linux, WSL:
		if !IsSupported() {
			t.Errorf("IsSupported() = false for platform %q, want true", Detect())
		}
	default:
		if IsSupported() {
			t.Errorf("IsSupported() = true for platform %q, want false", Detect())
		}
	}
}
