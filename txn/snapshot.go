package txn

import (
	"math"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/minsql/minsql/hlc"
)

// HistoricalXid is the snapshot xid that sees every committed version.
// Historical snapshots resolve to a concrete xid when the commit log can
// place the requested timestamp, and fall back to this sentinel otherwise.
const HistoricalXid = uint64(math.MaxUint64)

// Snapshot fixes what one transaction is allowed to see. Xid is the
// reader's transaction id, Active the set of transactions that were open
// when the snapshot was taken.
type Snapshot struct {
	Xid      uint64
	Active   map[uint64]bool
	ReadTime hlc.LogicalTime

	// Shared with the manager; rolled-back writers are never visible.
	// Nil for snapshots built outside a manager, which then treat no
	// transaction as aborted.
	aborted *xsync.MapOf[uint64, struct{}]
}

func (s *Snapshot) isAborted(xid uint64) bool {
	if s.aborted == nil {
		return false
	}
	_, ok := s.aborted.Load(xid)
	return ok
}

// Visible decides whether a row version (xmin, xmax) is visible under the
// snapshot. Xmax zero means the version was never deleted.
//
// A version is invisible when any of these hold:
//   - it was created after the snapshot's transaction began
//   - its creator was still active at snapshot time and is not the reader
//   - its creator rolled back
//   - it was deleted by a transaction the snapshot considers committed
func (s *Snapshot) Visible(xmin, xmax uint64) bool {
	if xmin > s.Xid {
		return false
	}
	if s.Active[xmin] && xmin != s.Xid {
		return false
	}
	if s.isAborted(xmin) && xmin != s.Xid {
		return false
	}
	if xmax != 0 && xmax <= s.Xid && !s.Active[xmax] && !s.isAborted(xmax) {
		return false
	}
	return true
}

// Clone returns an independent copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	active := make(map[uint64]bool, len(s.Active))
	for k, v := range s.Active {
		active[k] = v
	}
	return &Snapshot{Xid: s.Xid, Active: active, ReadTime: s.ReadTime, aborted: s.aborted}
}
