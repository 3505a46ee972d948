// Package activity tracks per-driver message flow for LED/status
// visualization: which driver last sent or received a message, and whether
// each driver's connection status changed recently enough to forward.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jdginn/xtouch-gw/driver"
)

// Tracker records the last-seen instant for every (driver, direction) pair
// and answers whether that pair is still "active" within a configured
// LED-hold window.
type Tracker struct {
	ledDuration time.Duration
	activity    sync.Map // key: "driver:direction" -> time.Time
}

// NewTracker returns a Tracker that considers a (driver, direction) pair
// active for ledDuration after its last recorded event.
func NewTracker(ledDuration time.Duration) *Tracker {
	return &Tracker{ledDuration: ledDuration}
}

func activityKey(name string, direction driver.ActivityDirection) string {
	return fmt.Sprintf("%s:%s", name, direction)
}

// Record stamps driverName's activity for direction with the current time.
// Called on every inbound device event and outbound command.
func (t *Tracker) Record(driverName string, direction driver.ActivityDirection) {
	t.activity.Store(activityKey(driverName, direction), time.Now())
}

// IsActive reports whether driverName had activity in direction within the
// last ledDuration.
func (t *Tracker) IsActive(driverName string, direction driver.ActivityDirection) bool {
	v, ok := t.activity.Load(activityKey(driverName, direction))
	if !ok {
		return false
	}
	return time.Since(v.(time.Time)) < t.ledDuration
}

// Snapshot reports active/inactive for every (driver, direction) pair in
// drivers, for both directions.
type Snapshot map[string]map[driver.ActivityDirection]bool

// Poll builds a one-shot snapshot of current activity for the given driver
// names.
func (t *Tracker) Poll(driverNames []string) Snapshot {
	snap := make(Snapshot, len(driverNames))
	for _, name := range driverNames {
		snap[name] = map[driver.ActivityDirection]bool{
			driver.Inbound:  t.IsActive(name, driver.Inbound),
			driver.Outbound: t.IsActive(name, driver.Outbound),
		}
	}
	return snap
}

// StatusFanout forwards driver connection-status changes to a sink,
// always forwarding on an actual status change but rate-limiting repeats of
// an unchanged status to no more than once per rateLimit.
type StatusFanout struct {
	rateLimit time.Duration
	sink      func(driverName string, ev driver.StatusEvent)

	mu          sync.Mutex
	lastStatus  map[string]driver.StatusEvent
	lastSentAt  map[string]time.Time
}

// DefaultRateLimit matches the original tray handler's minimum spacing
// between repeated identical-status updates.
const DefaultRateLimit = 50 * time.Millisecond

// NewStatusFanout returns a StatusFanout that invokes sink for every status
// change and, for unchanged statuses, at most once per rateLimit.
func NewStatusFanout(rateLimit time.Duration, sink func(driverName string, ev driver.StatusEvent)) *StatusFanout {
	return &StatusFanout{
		rateLimit:  rateLimit,
		sink:       sink,
		lastStatus: make(map[string]driver.StatusEvent),
		lastSentAt: make(map[string]time.Time),
	}
}

// Subscribe returns a driver.StatusCallback bound to driverName, suitable
// for passing to Driver.SubscribeConnectionStatus.
func (f *StatusFanout) Subscribe(driverName string) driver.StatusCallback {
	return func(ev driver.StatusEvent) {
		f.handle(driverName, ev)
	}
}

func (f *StatusFanout) handle(driverName string, ev driver.StatusEvent) {
	f.mu.Lock()
	now := time.Now()
	prev, hadPrev := f.lastStatus[driverName]
	changed := !hadPrev || prev != ev

	send := false
	if changed {
		send = true
		f.lastSentAt[driverName] = now
	} else if last, ok := f.lastSentAt[driverName]; !ok || now.Sub(last) >= f.rateLimit {
		send = true
		f.lastSentAt[driverName] = now
	}
	f.lastStatus[driverName] = ev
	f.mu.Unlock()

	if send {
		f.sink(driverName, ev)
	}
}

// StartSnapshotPoller emits a Snapshot covering driverNames to sink every
// interval until ctx is canceled. Runs in the caller's goroutine; callers
// that want this non-blocking should `go` it themselves, mirroring every
// other cooperative task in this gateway that checks a cancellation signal
// on each iteration rather than relying on ambient cancellation.
func (t *Tracker) StartSnapshotPoller(ctx context.Context, driverNames []string, interval time.Duration, sink func(Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink(t.Poll(driverNames))
		}
	}
}

// LastStatuses returns a snapshot of the most recently observed status for
// every driver that has reported at least once.
func (f *StatusFanout) LastStatuses() map[string]driver.StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]driver.StatusEvent, len(f.lastStatus))
	for k, v := range f.lastStatus {
		out[k] = v
	}
	return out
}
