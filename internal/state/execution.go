package state

import (
	"sync"
	"time"
)

// Snapshot is a consistent copy of the execution guard.
type Snapshot struct {
	LastOrderSize       int64 `json:"last_order_size"`
	DeadZoneOrderPlaced bool  `json:"dead_zone_order_placed"`
	UpdatedAtMS         int64 `json:"updated_at_ms"`
}

// Execution remembers the last position size a cycle was dispatched for.
// All reads and writes go through one mutex so a tick never sees a torn
// (size, dead zone) pair.
type Execution struct {
	mu       sync.Mutex
	snapshot Snapshot
	now      func() time.Time
}

func NewExecution(initial Snapshot) *Execution {
	return &Execution{snapshot: initial, now: time.Now}
}

// Observe records size and reports whether it differs from the last
// dispatched size. The compare and the store happen under the same lock, so
// concurrent ticks that see the same new size dispatch once.
func (e *Execution) Observe(size int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot.LastOrderSize == size {
		return false
	}
	e.snapshot.LastOrderSize = size
	e.touch()
	return true
}

// EnterDeadZone resets the last size and claims the dead zone flow. It
// returns false when the flow already ran since the last entry price.
func (e *Execution) EnterDeadZone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.LastOrderSize = 0
	if e.snapshot.DeadZoneOrderPlaced {
		return false
	}
	e.snapshot.DeadZoneOrderPlaced = true
	e.touch()
	return true
}

// ReleaseDeadZone lets the next tick run the dead zone flow again.
func (e *Execution) ReleaseDeadZone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.DeadZoneOrderPlaced = false
	e.touch()
}

// ClearDeadZone is called when an entry price is present. It reports whether
// the flag was set.
func (e *Execution) ClearDeadZone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.snapshot.DeadZoneOrderPlaced {
		return false
	}
	e.snapshot.DeadZoneOrderPlaced = false
	e.touch()
	return true
}

func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

func (e *Execution) touch() {
	e.snapshot.UpdatedAtMS = e.now().UnixMilli()
}
