package exec

import (
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/txn"
)

// Context carries everything an operator tree needs to run: the storage
// adapter, the reader's snapshot, and the resource sandbox.
type Context struct {
	Adapter  storage.Adapter
	Snapshot *txn.Snapshot
	Manager  *txn.Manager
	Sandbox  *Sandbox
}

// Operator is one node of the executable tree. Open prepares state, Next
// yields tuples until it returns false, Close releases resources. The
// tree is driven pull-style from the root.
type Operator interface {
	Open(ctx *Context) error
	Next() (*common.Tuple, bool, error)
	Close() error
}
