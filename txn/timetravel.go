package txn

import (
	"time"

	"github.com/minsql/minsql/hlc"
)

// SnapshotAt builds a read-only historical snapshot for the given wall
// time. The commit log resolves the timestamp to the last transaction
// committed before it; when the log cannot place the timestamp the
// snapshot sees every committed version. The active set is empty since a
// historical reader must not see in-flight work either way.
func (m *Manager) SnapshotAt(at time.Time) *Snapshot {
	readTime := hlc.LogicalTime{Physical: uint64(at.UnixNano())}
	return &Snapshot{
		Xid:      m.resolveXidAt(readTime),
		Active:   map[uint64]bool{},
		ReadTime: readTime,
		aborted:  m.aborted,
	}
}

// Window bounds a time-travel query with an until clause. A version
// qualifies when it was visible at either bound of the window.
type Window struct {
	Start *Snapshot
	End   *Snapshot
}

// SnapshotWindow returns the pair of snapshots bounding a time-travel
// window query.
func (m *Manager) SnapshotWindow(at, until time.Time) *Window {
	return &Window{
		Start: m.SnapshotAt(at),
		End:   m.SnapshotAt(until),
	}
}

// VisibleInWindow reports whether a row version was visible at the start
// or the end of the window.
func (w *Window) VisibleInWindow(xmin, xmax uint64) bool {
	return w.Start.Visible(xmin, xmax) || w.End.Visible(xmin, xmax)
}
