package txn

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/hlc"
	"github.com/minsql/minsql/telemetry"
)

// TransactionError reports an invalid transaction state transition
type TransactionError struct {
	Message string
}

func (e *TransactionError) Error() string {
	return "transaction error: " + e.Message
}

// Transaction is one open transaction
type Transaction struct {
	Xid           uint64
	Snapshot      *Snapshot
	Deterministic bool
	Started       hlc.LogicalTime
}

type commitRecord struct {
	xid uint64
	at  hlc.LogicalTime
}

// Manager hands out transaction ids, tracks the active set, and records
// commit order for historical snapshots.
type Manager struct {
	clock   *hlc.Clock
	nextXid atomic.Uint64
	active  *xsync.MapOf[uint64, *Transaction]
	aborted *xsync.MapOf[uint64, struct{}]

	// Commit log ordered by commit time, for timestamp resolution
	commitMu  sync.RWMutex
	commitLog []commitRecord
}

// NewManager creates a transaction manager over the given clock
func NewManager(clock *hlc.Clock) *Manager {
	return &Manager{
		clock:   clock,
		active:  xsync.NewMapOf[uint64, *Transaction](),
		aborted: xsync.NewMapOf[uint64, struct{}](),
	}
}

// Begin opens a transaction. The snapshot captures every transaction that
// is active at this instant; deterministic transactions additionally pin
// the clock's frozen time.
func (m *Manager) Begin(deterministic bool, at *time.Time) *Transaction {
	if deterministic && at != nil {
		m.clock.Freeze(uint64(at.UnixNano()))
	}

	xid := m.nextXid.Add(1)
	now := m.clock.Now()

	activeSet := make(map[uint64]bool)
	m.active.Range(func(otherXid uint64, _ *Transaction) bool {
		activeSet[otherXid] = true
		return true
	})

	txn := &Transaction{
		Xid:           xid,
		Deterministic: deterministic,
		Started:       now,
		Snapshot: &Snapshot{
			Xid:      xid,
			Active:   activeSet,
			ReadTime: now,
			aborted:  m.aborted,
		},
	}
	m.active.Store(xid, txn)

	telemetry.ActiveTransactions.Inc()
	log.Debug().
		Uint64("xid", xid).
		Bool("deterministic", deterministic).
		Int("active_at_start", len(activeSet)).
		Msg("Transaction started")

	return txn
}

// Commit closes the transaction and records its commit timestamp
func (m *Manager) Commit(xid uint64) error {
	txn, ok := m.active.LoadAndDelete(xid)
	if !ok {
		return &TransactionError{Message: fmt.Sprintf("transaction %d is not active", xid)}
	}

	at := m.clock.Now()
	m.commitMu.Lock()
	m.commitLog = append(m.commitLog, commitRecord{xid: xid, at: at})
	m.commitMu.Unlock()

	telemetry.ActiveTransactions.Dec()
	mode := "realtime"
	if txn.Deterministic {
		mode = "deterministic"
	}
	telemetry.TxnTotal.With(mode, "commit").Inc()
	log.Debug().Uint64("xid", xid).Msg("Transaction committed")
	return nil
}

// Rollback closes the transaction without recording a commit. Any
// versions it wrote stay invisible to every later snapshot.
func (m *Manager) Rollback(xid uint64) error {
	txn, ok := m.active.LoadAndDelete(xid)
	if !ok {
		return &TransactionError{Message: fmt.Sprintf("transaction %d is not active", xid)}
	}
	m.aborted.Store(xid, struct{}{})

	telemetry.ActiveTransactions.Dec()
	mode := "realtime"
	if txn.Deterministic {
		mode = "deterministic"
	}
	telemetry.TxnTotal.With(mode, "rollback").Inc()
	log.Debug().Uint64("xid", xid).Msg("Transaction rolled back")
	return nil
}

// Get returns an active transaction by id
func (m *Manager) Get(xid uint64) (*Transaction, bool) {
	return m.active.Load(xid)
}

// ActiveCount returns the number of open transactions
func (m *Manager) ActiveCount() int {
	return m.active.Size()
}

// AutoSnapshot returns a single-statement snapshot: a fresh transaction
// view that is never registered as active.
func (m *Manager) AutoSnapshot() *Snapshot {
	xid := m.nextXid.Add(1)
	activeSet := make(map[uint64]bool)
	m.active.Range(func(otherXid uint64, _ *Transaction) bool {
		activeSet[otherXid] = true
		return true
	})
	return &Snapshot{Xid: xid, Active: activeSet, ReadTime: m.clock.Now(), aborted: m.aborted}
}

// NextXid reserves and returns a fresh transaction id without opening a
// transaction. Auto-commit mutations use it as their version stamp.
func (m *Manager) NextXid() uint64 {
	return m.nextXid.Add(1)
}

// RecordCommit notes that xid committed at the given time. Used when
// replaying a recorded history.
func (m *Manager) RecordCommit(xid uint64, at hlc.LogicalTime) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	m.commitLog = append(m.commitLog, commitRecord{xid: xid, at: at})
	sort.Slice(m.commitLog, func(i, j int) bool {
		return m.commitLog[i].at.Before(m.commitLog[j].at)
	})
}

// resolveXidAt returns the highest xid committed at or before t, or
// HistoricalXid when the commit log cannot place t.
func (m *Manager) resolveXidAt(t hlc.LogicalTime) uint64 {
	m.commitMu.RLock()
	defer m.commitMu.RUnlock()

	if len(m.commitLog) == 0 {
		return HistoricalXid
	}

	var best uint64
	found := false
	for _, rec := range m.commitLog {
		if rec.at.After(t) {
			continue
		}
		if !found || rec.xid > best {
			best = rec.xid
			found = true
		}
	}
	if !found {
		// Everything committed after t: nothing is visible
		return 0
	}
	return best
}
