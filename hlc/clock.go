package hlc

import (
	"sync/atomic"
	"time"
)

// Mode selects the time source for a Clock
type Mode int32

const (
	// Realtime reads physical time from the OS clock
	Realtime Mode = iota
	// Deterministic freezes physical time; it only moves via SetPhysical/AdvanceBy.
	// Used for replay, where every node must observe identical timestamps.
	Deterministic
)

// LogicalTime is a hybrid timestamp: physical nanoseconds plus a logical
// counter that breaks ties between events in the same nanosecond.
type LogicalTime struct {
	Physical uint64
	Logical  uint64
}

// Clock issues monotonic hybrid timestamps for one node
type Clock struct {
	mode     atomic.Int32
	frozen   atomic.Uint64 // Physical time when deterministic
	logical  atomic.Uint64
	lastPhys atomic.Uint64 // Last physical value observed, keeps Now monotonic
	nodeID   uint64
}

// NewClock creates a realtime clock
func NewClock(nodeID uint64) *Clock {
	c := &Clock{nodeID: nodeID}
	c.mode.Store(int32(Realtime))
	return c
}

// NewDeterministicClock creates a clock frozen at the given physical time
func NewDeterministicClock(nodeID uint64, physical uint64) *Clock {
	c := &Clock{nodeID: nodeID}
	c.mode.Store(int32(Deterministic))
	c.frozen.Store(physical)
	c.lastPhys.Store(physical)
	return c
}

// NodeID returns the owning node's identifier
func (c *Clock) NodeID() uint64 {
	return c.nodeID
}

// Mode returns the current clock mode
func (c *Clock) Mode() Mode {
	return Mode(c.mode.Load())
}

// Now returns the next timestamp. Physical time never moves backwards;
// the logical counter strictly increases across calls.
func (c *Clock) Now() LogicalTime {
	phys := c.physical()

	// Ratchet so a stepped-back OS clock cannot reorder timestamps
	for {
		last := c.lastPhys.Load()
		if phys <= last {
			phys = last
			break
		}
		if c.lastPhys.CompareAndSwap(last, phys) {
			break
		}
	}

	logical := c.logical.Add(1)
	return LogicalTime{Physical: phys, Logical: logical}
}

// Freeze switches the clock into deterministic mode pinned at physical
func (c *Clock) Freeze(physical uint64) {
	c.frozen.Store(physical)
	c.lastPhys.Store(physical)
	c.mode.Store(int32(Deterministic))
}

// Thaw returns the clock to realtime mode
func (c *Clock) Thaw() {
	c.mode.Store(int32(Realtime))
}

// SetPhysical moves the frozen physical time. No-op in realtime mode.
func (c *Clock) SetPhysical(physical uint64) {
	if c.Mode() == Deterministic {
		c.frozen.Store(physical)
		c.lastPhys.Store(physical)
	}
}

// AdvanceBy bumps the logical counter by n, simulating n elapsed events
// without moving physical time. Used by replay to line up with a recorded
// event stream.
func (c *Clock) AdvanceBy(n uint64) {
	c.logical.Add(n)
}

// Observe folds a remote timestamp into the clock so subsequent local
// timestamps sort after it.
func (c *Clock) Observe(remote LogicalTime) {
	for {
		last := c.lastPhys.Load()
		if remote.Physical <= last {
			break
		}
		if c.lastPhys.CompareAndSwap(last, remote.Physical) {
			break
		}
	}
	for {
		cur := c.logical.Load()
		if remote.Logical <= cur {
			break
		}
		if c.logical.CompareAndSwap(cur, remote.Logical) {
			break
		}
	}
}

func (c *Clock) physical() uint64 {
	if c.Mode() == Deterministic {
		return c.frozen.Load()
	}
	return uint64(time.Now().UnixNano())
}

// Compare returns -1 if t < other, 0 if equal, 1 if t > other.
// Physical time dominates; logical breaks ties.
func (t LogicalTime) Compare(other LogicalTime) int {
	if t.Physical != other.Physical {
		if t.Physical < other.Physical {
			return -1
		}
		return 1
	}
	if t.Logical != other.Logical {
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether t sorts strictly before other
func (t LogicalTime) Before(other LogicalTime) bool {
	return t.Compare(other) < 0
}

// After reports whether t sorts strictly after other
func (t LogicalTime) After(other LogicalTime) bool {
	return t.Compare(other) > 0
}
