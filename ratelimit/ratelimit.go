// Package ratelimit provides a packets-per-second limiter for synthetic
// traffic generators driving Context.Inject.
package ratelimit

import (
	"context"
	"time"
)

// Limiter paces calls to at most pps packets per second on average.
// Not safe for concurrent use.
type Limiter struct {
	nsPerPacket int64
	packetsSent uint64
	startTime   time.Time
	checkEvery  uint64
}

// New creates a limiter for pps packets per second.
// If pps == 0, pacing is disabled and Wait returns immediately.
func New(pps uint64) *Limiter {
	if pps == 0 {
		return nil
	}
	return &Limiter{
		nsPerPacket: int64(time.Second) / int64(pps),
		startTime:   time.Now(),

		// Check time every ~10ms of packets to balance accuracy vs overhead.
		// At least every 32 packets. At most every 1024 packets.
		checkEvery: min(max(pps/100, 32), 1024),
	}
}

// Wait blocks until n more packets are allowed to go out, or ctx is done —
// whichever comes first. It returns ctx.Err() when canceled mid-sleep so a
// caller injecting packets in a loop can exit promptly on shutdown instead
// of riding out the full sleep. The schedule is measured from the limiter's
// creation, so after the caller falls behind, Wait does not sleep again until
// the cumulative packet count is back on schedule: sends after a delay go out
// faster until they have caught up.
func (l *Limiter) Wait(ctx context.Context, n uint64) error {
	if l == nil || n == 0 {
		return nil
	}

	l.packetsSent += n
	if l.packetsSent%l.checkEvery != 0 {
		return nil // Fast path: only check time periodically.
	}

	expectedTime := l.startTime.Add(time.Duration(int64(l.packetsSent) * l.nsPerPacket))
	now := time.Now()
	if !now.Before(expectedTime) {
		return nil // Behind schedule: naturally catch up by not sleeping.
	}

	t := time.NewTimer(expectedTime.Sub(now))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
