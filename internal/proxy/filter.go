package proxy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/sandboxrun/internal/hostmatch"
	"github.com/anthropics/sandboxrun/internal/policy"
)

// askTimeout bounds how long a connection waits on a caller-supplied
// hostmatch.AskFunc before the proxy fails closed, per spec: "ask-callback
// rejection or timeout (default 30s) yields 403".
const askTimeout = 30 * time.Second

// CreateDomainFilter builds a FilterFunc from a normalized policy. ask is
// consulted only when the policy's allow/deny rules neither allow nor deny
// a host outright (see hostmatch.Matcher.Evaluate); it may be nil, in which
// case that case defaults to deny. When debug is true, matched rules are
// logged to stderr.
func CreateDomainFilter(p *policy.Policy, ask hostmatch.AskFunc, debug bool) FilterFunc {
	return func(host string, port int) bool {
		if p == nil {
			if debug {
				fmt.Fprintf(os.Stderr, "[sandboxrun:filter] No policy, denying: %s:%d\n", host, port)
			}
			return false
		}

		if p.Unrestricted {
			if debug {
				fmt.Fprintf(os.Stderr, "[sandboxrun:filter] Unrestricted network, allowing: %s:%d\n", host, port)
			}
			return true
		}

		var allowed, denied []string
		if p.Network != nil {
			allowed = p.Network.AllowedHosts
			denied = p.Network.DeniedHosts
		}
		matcher := hostmatch.New(allowed, denied, ask)

		ctx := context.Background()
		if ask != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, askTimeout)
			defer cancel()
		}
		decision := matcher.Evaluate(ctx, host, port)

		if debug {
			fmt.Fprintf(os.Stderr, "[sandboxrun:filter] %s: %s:%d\n", decision, host, port)
		}
		return decision == hostmatch.Allow
	}
}
