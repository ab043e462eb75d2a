package sandbox

import "errors"

// Sentinel errors returned by the platform-specific command wrappers and
// the manager that dispatches to them.
var (
	// ErrConfigInvalid is returned when a policy cannot be enforced as given.
	ErrConfigInvalid = errors.New("sandboxrun: invalid configuration")
	// ErrProxyBindFailed is returned when the filtering proxy cannot bind
	// its listener.
	ErrProxyBindFailed = errors.New("sandboxrun: proxy failed to bind")
	// ErrPlatformUnsupported is returned when no enforcement backend is
	// available for the host platform, or a required external tool
	// (sandbox-exec, bwrap) is missing.
	ErrPlatformUnsupported = errors.New("sandboxrun: platform not supported")
)
