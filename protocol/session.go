package protocol

import (
	"errors"
	"sync"

	"github.com/minsql/minsql/encoding"
	"github.com/minsql/minsql/exec"
	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/planner"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/txn"
)

// WriteRecorder receives committed write statements for the replicated
// log. A nil recorder disables recording.
type WriteRecorder interface {
	RecordWrite(xid uint64, source string) error
}

// Session tracks per-connection transaction state. Statements outside
// an explicit transaction run auto-committed on a fresh snapshot.
type Session struct {
	ConnID   uint64
	engine   *exec.Engine
	manager  *txn.Manager
	recorder WriteRecorder
	plans    *planner.PlanCache

	mu            sync.Mutex
	activeTxn     *txn.Transaction
	pendingWrites []string
}

// NewSession creates a session for one connection. The plan cache is
// shared across sessions; nil disables caching.
func NewSession(connID uint64, engine *exec.Engine, manager *txn.Manager, recorder WriteRecorder, plans *planner.PlanCache) *Session {
	return &Session{ConnID: connID, engine: engine, manager: manager, recorder: recorder, plans: plans}
}

// InTransaction reports whether an explicit transaction is open
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTxn != nil
}

// Close rolls back any transaction left open by a disconnecting client
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTxn != nil {
		_ = s.manager.Rollback(s.activeTxn.Xid)
		s.activeTxn = nil
		s.pendingWrites = nil
	}
}

// Execute runs one statement and returns the response frame. The error
// return is reserved for failures encoding the response itself;
// statement failures come back as an Error frame.
func (s *Session) Execute(source string) (*Frame, error) {
	frame, err := s.run(source)
	if err != nil {
		s.abortOnFailure(err)
		resp, fatal := MapError(err)
		payload, encErr := encoding.Marshal(resp)
		if encErr != nil {
			return nil, encErr
		}
		if fatal {
			return &Frame{Type: FrameError, Payload: payload}, err
		}
		return &Frame{Type: FrameError, Payload: payload}, nil
	}
	return frame, nil
}

// abortOnFailure rolls back the open transaction when a statement fails
// during execution or in storage. Language and planning errors leave the
// transaction open.
func (s *Session) abortOnFailure(err error) {
	var execErr *exec.ExecError
	var storageErr *storage.StorageError
	if !errors.As(err, &execErr) && !errors.As(err, &storageErr) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTxn != nil {
		_ = s.manager.Rollback(s.activeTxn.Xid)
		s.activeTxn = nil
		s.pendingWrites = nil
	}
}

func (s *Session) run(source string) (*Frame, error) {
	intent, err := s.lower(source)
	if err != nil {
		return nil, err
	}

	switch it := intent.(type) {
	case *lang.RetrieveIntent:
		return s.runRetrieve(it)
	case *lang.MutateIntent:
		return s.runMutate(it, source)
	case *lang.SchemaIntent:
		return s.runSchema(it, source)
	case *lang.TransactionIntent:
		return s.runTransaction(it)
	default:
		return nil, &lang.SemanticError{Message: "statement cannot be executed"}
	}
}

// lower parses and analyzes a statement, memoizing the result in the
// shared plan cache
func (s *Session) lower(source string) (lang.Intent, error) {
	if s.plans != nil {
		if intent, ok := s.plans.Get(source); ok {
			return intent, nil
		}
	}
	stmt, err := lang.Parse(source)
	if err != nil {
		return nil, err
	}
	intent, err := lang.Analyze(stmt)
	if err != nil {
		return nil, err
	}
	if s.plans != nil {
		s.plans.Put(source, intent)
	}
	return intent, nil
}

func (s *Session) runRetrieve(intent *lang.RetrieveIntent) (*Frame, error) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	res, err := s.engine.Query(intent, snap)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeQueryResponse(res)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameQueryResponse, Payload: payload}, nil
}

func (s *Session) runMutate(intent *lang.MutateIntent, source string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeTxn != nil {
		res, err := s.engine.Mutate(intent, s.activeTxn.Snapshot)
		if err != nil {
			return nil, err
		}
		s.pendingWrites = append(s.pendingWrites, source)
		return executeAck(res.Affected)
	}

	// Auto-commit: fresh snapshot, commit recorded immediately
	snap := s.manager.AutoSnapshot()
	res, err := s.engine.Mutate(intent, snap)
	if err != nil {
		return nil, err
	}
	s.manager.RecordCommit(snap.Xid, snap.ReadTime)
	if s.recorder != nil {
		if err := s.recorder.RecordWrite(snap.Xid, source); err != nil {
			return nil, err
		}
	}
	return executeAck(res.Affected)
}

func (s *Session) runSchema(intent *lang.SchemaIntent, source string) (*Frame, error) {
	var err error
	switch intent.Kind {
	case lang.SchemaCreateTable:
		err = s.engine.CreateTable(intent)
	case lang.SchemaCreateIndex:
		err = s.engine.CreateIndex(intent)
	case lang.SchemaDropTable:
		err = s.engine.DropTable(intent)
	default:
		err = &lang.SemanticError{Message: "unknown schema statement"}
	}
	if err != nil {
		return nil, err
	}
	// Cached intents bind to the old schema
	if s.plans != nil {
		s.plans.Purge()
	}
	if s.recorder != nil {
		if err := s.recorder.RecordWrite(s.manager.NextXid(), source); err != nil {
			return nil, err
		}
	}
	return executeAck(0)
}

func (s *Session) runTransaction(intent *lang.TransactionIntent) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch intent.Kind {
	case lang.TxnBegin:
		if s.activeTxn != nil {
			return nil, &txn.TransactionError{Message: "transaction already open on this connection"}
		}
		s.activeTxn = s.manager.Begin(intent.Deterministic, intent.At)
		return executeAck(0)

	case lang.TxnCommit:
		if s.activeTxn == nil {
			return nil, &txn.TransactionError{Message: "no open transaction"}
		}
		xid := s.activeTxn.Xid
		if err := s.manager.Commit(xid); err != nil {
			return nil, err
		}
		if s.recorder != nil {
			for _, src := range s.pendingWrites {
				if err := s.recorder.RecordWrite(xid, src); err != nil {
					return nil, err
				}
			}
		}
		s.activeTxn = nil
		s.pendingWrites = nil
		return executeAck(0)

	case lang.TxnRollback:
		if s.activeTxn == nil {
			return nil, &txn.TransactionError{Message: "no open transaction"}
		}
		if err := s.manager.Rollback(s.activeTxn.Xid); err != nil {
			return nil, err
		}
		s.activeTxn = nil
		s.pendingWrites = nil
		return executeAck(0)
	}
	return nil, &txn.TransactionError{Message: "unknown transaction statement"}
}

// snapshotLocked picks the read snapshot: the open transaction's view,
// or a fresh auto-commit view.
func (s *Session) snapshotLocked() *txn.Snapshot {
	if s.activeTxn != nil {
		return s.activeTxn.Snapshot
	}
	return s.manager.AutoSnapshot()
}

func executeAck(affected int64) (*Frame, error) {
	payload, err := encoding.Marshal(&ExecuteResponse{Affected: affected})
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameExecuteResponse, Payload: payload}, nil
}
