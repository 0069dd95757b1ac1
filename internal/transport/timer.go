package transport

import "time"

// loopTimer is the {start, cancel, fire-once|repeating} primitive from
// DESIGN NOTES, bound to the single goroutine that owns a connection's
// state. It wraps *time.Timer the way the teacher wraps *time.Timer for
// pingTimer/maxRequestTimer/maxIdleTimer in serverConn — created once,
// Reset/Stop only ever called from the owning goroutine.
type loopTimer struct {
	timer    *time.Timer
	duration time.Duration
	armed    bool
}

// newLoopTimer returns a timer that is not yet armed; C returns a channel
// that never fires until Start is called.
func newLoopTimer(d time.Duration) *loopTimer {
	t := time.NewTimer(d)
	if !t.Stop() {
		<-t.C
	}
	return &loopTimer{timer: t, duration: d}
}

// C is the channel to select on.
func (lt *loopTimer) C() <-chan time.Time { return lt.timer.C }

// Start (re)arms the timer for its configured duration.
func (lt *loopTimer) Start() {
	lt.stopDrain()
	lt.timer.Reset(lt.duration)
	lt.armed = true
}

// StartWith (re)arms the timer for a specific duration.
func (lt *loopTimer) StartWith(d time.Duration) {
	lt.stopDrain()
	lt.timer.Reset(d)
	lt.armed = true
}

// Cancel disarms the timer; safe to call when already disarmed.
func (lt *loopTimer) Cancel() {
	if !lt.armed {
		return
	}
	lt.stopDrain()
	lt.armed = false
}

// Fired marks the timer as having fired (call after a successful receive
// on C()); the timer must be Start-ed again to rearm.
func (lt *loopTimer) Fired() { lt.armed = false }

// Armed reports whether the timer is currently running.
func (lt *loopTimer) Armed() bool { return lt.armed }

func (lt *loopTimer) stopDrain() {
	if !lt.timer.Stop() {
		select {
		case <-lt.timer.C:
		default:
		}
	}
}
