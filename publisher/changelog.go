package publisher

import (
	"fmt"
	"sync"
)

// ChangeLog buffers change events between the commit path and the sink
// workers. Events get monotonic sequence numbers on append; each sink
// tracks its own cursor. The buffer is bounded: once full, the oldest
// events are dropped and slow sinks skip ahead.
type ChangeLog struct {
	mu       sync.RWMutex
	events   []ChangeEvent
	nextSeq  uint64
	capacity int
	cursors  map[string]uint64
}

// DefaultChangeLogCapacity bounds the in-memory buffer
const DefaultChangeLogCapacity = 65536

// NewChangeLog creates a change log with the given capacity. Zero or
// negative means the default.
func NewChangeLog(capacity int) *ChangeLog {
	if capacity <= 0 {
		capacity = DefaultChangeLogCapacity
	}
	return &ChangeLog{
		capacity: capacity,
		nextSeq:  1,
		cursors:  make(map[string]uint64),
	}
}

// Append adds events to the log and assigns their sequence numbers
func (l *ChangeLog) Append(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range events {
		events[i].Seq = l.nextSeq
		l.nextSeq++
	}
	l.events = append(l.events, events...)
	if over := len(l.events) - l.capacity; over > 0 {
		l.events = l.events[over:]
	}
}

// ReadFrom returns up to max events with a sequence number greater than
// the cursor.
func (l *ChangeLog) ReadFrom(cursor uint64, max int) []ChangeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ChangeEvent, 0, max)
	for i := range l.events {
		if l.events[i].Seq <= cursor {
			continue
		}
		out = append(out, l.events[i])
		if len(out) >= max {
			break
		}
	}
	return out
}

// Cursor returns the last acknowledged sequence for a sink
func (l *ChangeLog) Cursor(sinkName string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursors[sinkName]
}

// AdvanceCursor records that a sink has processed up to seq
func (l *ChangeLog) AdvanceCursor(sinkName string, seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current := l.cursors[sinkName]; seq < current {
		return fmt.Errorf("cursor for %s moving backwards: %d < %d", sinkName, seq, current)
	}
	l.cursors[sinkName] = seq
	return nil
}

// LastSeq returns the newest assigned sequence number, zero when empty
func (l *ChangeLog) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq - 1
}
