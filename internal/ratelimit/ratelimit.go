// Package ratelimit paces OutboundQueue resends and Reconnector dials
// (SPEC_FULL.md §4.11) with golang.org/x/time/rate, the same token
// bucket the teacher uses to pace NATS consumption and broadcasts
// (src/resource_guard.go). A burst of local sends or a runaway retry
// loop is throttled here rather than flooding the transport.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiters bundles the two token buckets SPEC_FULL.md §4.11 names.
type Limiters struct {
	Send      *rate.Limiter
	Reconnect *rate.Limiter
}

// New builds Limiters from the configured per-second rates, each with
// a 2x burst allowance for traffic spikes (grounded on the teacher's
// "Burst: Allow up to 2x the rate" comment, src/resource_guard.go).
func New(maxSendRate, maxReconnectRate float64) *Limiters {
	return &Limiters{
		Send:      rate.NewLimiter(rate.Limit(maxSendRate), burstFor(maxSendRate)),
		Reconnect: rate.NewLimiter(rate.Limit(maxReconnectRate), burstFor(maxReconnectRate)),
	}
}

func burstFor(r float64) int {
	b := int(r * 2)
	if b < 1 {
		b = 1
	}
	return b
}

// WaitReconnect blocks until a reconnect-dial token is available or
// ctx is done.
func (l *Limiters) WaitReconnect(ctx context.Context) error {
	return l.Reconnect.Wait(ctx)
}

// AllowSend is the non-blocking form: true if a send token was
// available right now.
func (l *Limiters) AllowSend() bool {
	return l.Send.Allow()
}
