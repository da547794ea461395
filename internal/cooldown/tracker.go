package cooldown

import (
	"sync"
	"time"
)

// Key identifies one user's view of one position. Position ids are only unique per chain.
type Key struct {
	UserID     int64
	Chain      string
	PositionID int64
}

// Tracker remembers when each key last produced an alert. State is process-local
// and is lost on restart.
type Tracker struct {
	window time.Duration

	mu   sync.Mutex
	last map[Key]time.Time
}

// New builds a tracker that suppresses repeats within window.
func New(window time.Duration) *Tracker {
	return &Tracker{window: window, last: make(map[Key]time.Time)}
}

// Allow reports whether an alert for key may be sent at now and, if so, stamps now
// as the key's last alert time. prev is the stamp that was replaced (zero if none)
// and can be handed back to Restore.
func (t *Tracker) Allow(key Key, now time.Time) (prev time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[key]
	if seen && now.Sub(prev) < t.window {
		return prev, false
	}
	t.last[key] = now
	return prev, true
}

// Restore puts back the stamp replaced by Allow. A zero prev forgets the key.
func (t *Tracker) Restore(key Key, prev time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev.IsZero() {
		delete(t.last, key)
		return
	}
	t.last[key] = prev
}

// Prune drops entries whose window has elapsed and returns how many were removed.
func (t *Tracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, ts := range t.last {
		if now.Sub(ts) >= t.window {
			delete(t.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
