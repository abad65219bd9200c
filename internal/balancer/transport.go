package balancer

import (
	"time"

	"github.com/avapigw/core/internal/reqctx"
)

// Transport is the boundary between the dispatcher and whatever actually
// puts bytes on the wire (§6). The dispatcher applies the socket timeout
// on every attempt (step 2), sets the retry budget on the first attempt
// only (step 5), and hands off to it once per attempt (step 9); the
// transport itself decides whether and how to re-invoke Run for a retry.
type Transport interface {
	// SetSocketTimeout applies the cluster's connect/socket timeout to the
	// upstream connection about to be made.
	SetSocketTimeout(d time.Duration)
	// SetRetries configures the transport's retry budget for this request.
	// Called once, on the first attempt only (§4.2 step 5).
	SetRetries(n int)
	// Dispatch sends the request to host:port and reports the outcome by
	// returning an error (or nil on success). The transport is expected to
	// mark rc.ProxyPassed/rc.PreviousOutcome/rc.PreviousHTTPStatus before
	// returning, so a subsequent retry's Run call can file the matching
	// passive health report.
	Dispatch(ctx *reqctx.Context, host string, port int) error
}
