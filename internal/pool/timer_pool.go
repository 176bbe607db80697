// Package pool provides pooled one-shot timers for hot paths that schedule
// short-lived waits, such as delayed telegram replies and queue timeouts.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// GetTimer returns a timer armed for d. Hand it back with PutTimer once the
// wait is over; do not touch the timer after that.
func GetTimer(d time.Duration) *time.Timer {
	v := timers.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t := v.(*time.Timer) // the pool only ever holds *time.Timer
	if t.Reset(d) {
		// The timer was still armed when pooled; drop the pending tick so
		// the new owner does not see it.
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// PutTimer stops t and returns it to the pool. A tick the caller never
// received is drained here rather than leaking into the next GetTimer.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timers.Put(t)
}
