package manager

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// IdleTimer is a single-slot, resettable, cancellable deferred call.
// Every Reset bumps a sequence number; a firing only runs fn when its sequence
// is still the latest and the slot is armed, so a firing that was already
// queued on the clock when Reset or Cancel ran is dropped.
type IdleTimer struct {
	clock clock.Clock
	fn    func()

	mu    sync.Mutex
	timer *clock.Timer
	seq   uint64
	armed bool
}

// NewIdleTimer returns a disarmed timer that calls fn when a scheduled period elapses.
func NewIdleTimer(clk clock.Clock, fn func()) *IdleTimer {
	if clk == nil {
		clk = clock.New()
	}
	return &IdleTimer{clock: clk, fn: fn}
}

// Reset cancels any pending firing and schedules a new one d from now.
func (t *IdleTimer) Reset(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	t.stopLocked()
	t.seq++
	seq := t.seq
	t.armed = true
	t.mu.Unlock()

	// The firing runs on its own goroutine: a mock clock calls AfterFunc
	// callbacks while holding its lock, and fn reads the clock.
	tm := t.clock.AfterFunc(d, func() { go t.fire(seq) })

	t.mu.Lock()
	if t.armed && t.seq == seq {
		t.timer = tm
	} else {
		tm.Stop()
	}
	t.mu.Unlock()
}

// Cancel prevents a pending firing from running. Safe when nothing is scheduled.
func (t *IdleTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.seq++
	t.armed = false
}

// Pending reports whether a firing is scheduled and has not run yet.
func (t *IdleTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *IdleTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *IdleTimer) fire(seq uint64) {
	t.mu.Lock()
	if !t.armed || seq != t.seq {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}

// Touch records activity now and reschedules idle eviction for
// lastActivity + IdleTimeout, cancelling any previous schedule. With a zero
// idle window nothing is scheduled: Generate evicts as soon as it returns.
func (m *Manager) Touch() {
	now := m.clock.Now()
	m.actMu.Lock()
	m.lastActivity = now
	m.actMu.Unlock()
	if m.idleTimeout == 0 {
		m.idle.Cancel()
		return
	}
	m.idle.Reset(m.idleTimeout)
}

// LastActivity returns the time of the most recent Touch (zero if never).
func (m *Manager) LastActivity() time.Time {
	m.actMu.Lock()
	defer m.actMu.Unlock()
	return m.lastActivity
}
