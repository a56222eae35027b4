package cartsync

import (
	"sync"
	"time"
)

// Suppression reasons reported by the debouncer.
const (
	suppressInFlight = "in_flight"
	suppressInterval = "interval"
	suppressMutation = "mutation_locked"
)

// Debouncer serializes background refreshes: at most one fetch in flight,
// and no new fetch within the minimum interval after the last completed
// one. Requests that lose either guard are dropped, not queued.
type Debouncer struct {
	mu          sync.Mutex
	fetching    bool
	lastDone    time.Time
	minInterval time.Duration
	now         func() time.Time
}

func NewDebouncer(minInterval time.Duration) *Debouncer {
	return &Debouncer{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// TryBegin transitions Idle -> Fetching when permitted. On refusal it
// returns the suppression reason. force skips the interval guard (used for
// identity changes and mutation fallbacks) but never the single-flight
// guard.
func (d *Debouncer) TryBegin(force bool) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fetching {
		return false, suppressInFlight
	}
	if !force && !d.lastDone.IsZero() && d.now().Sub(d.lastDone) < d.minInterval {
		return false, suppressInterval
	}
	d.fetching = true
	return true, ""
}

// End transitions Fetching -> Idle and stamps the completion time. It is
// called on success and failure alike.
func (d *Debouncer) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetching = false
	d.lastDone = d.now()
}

// Fetching reports whether a fetch is currently in flight.
func (d *Debouncer) Fetching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetching
}
