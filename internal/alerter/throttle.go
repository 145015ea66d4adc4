package alerter

import (
	"sync"
	"time"
)

// Throttle limits repeat "still firing" notifications per alert id.
// Its state is process-local and not persisted.
type Throttle struct {
	mu       sync.Mutex
	lastSent map[string]time.Time // alert id -> last ongoing notification
}

// NewThrottle creates an empty throttle.
func NewThrottle() *Throttle {
	return &Throttle{lastSent: make(map[string]time.Time)}
}

// ShouldNotifyOngoing reports whether an ongoing notification for alertID
// should go out at now. A non-positive interval disables ongoing
// notifications entirely. The first call for an alert id returns true;
// later calls return true only once more than interval has passed since
// the last true result.
func (t *Throttle) ShouldNotifyOngoing(alertID string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.lastSent[alertID]
	if seen && now.Sub(last) <= interval {
		return false
	}
	t.lastSent[alertID] = now
	return true
}

// Forget drops the state kept for a closed alert.
func (t *Throttle) Forget(alertID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, alertID)
}

// Len returns the number of alerts currently tracked.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSent)
}
