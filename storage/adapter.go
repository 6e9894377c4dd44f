package storage

import (
	"fmt"
	"path"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/common"
)

// StorageError reports a failure inside a storage adapter
type StorageError struct {
	Op      string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage error in %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("storage error in %s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Row is one stored row version. Xmin is the transaction that created the
// version, Xmax the transaction that deleted it (zero while live).
type Row struct {
	ID    uint64
	Xmin  uint64
	Xmax  uint64
	Tuple *common.Tuple
}

// ColumnSchema describes one column of a table
type ColumnSchema struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// IndexSchema describes a secondary index over table columns
type IndexSchema struct {
	Name    string
	Columns []string
}

// TableSchema describes a table
type TableSchema struct {
	Name    string
	Columns []ColumnSchema
	Indexes []IndexSchema
}

// Index returns the named index
func (s *TableSchema) Index(name string) (*IndexSchema, bool) {
	for i := range s.Indexes {
		if s.Indexes[i].Name == name {
			return &s.Indexes[i], true
		}
	}
	return nil, false
}

// Column returns the schema of a named column
func (s *TableSchema) Column(name string) (*ColumnSchema, bool) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// RowIterator streams row versions out of an adapter. Next returns false
// when the scan is exhausted.
type RowIterator interface {
	Next() (*Row, bool, error)
	Close() error
}

// Adapter is the record-store contract. The engine owns visibility and
// filtering; adapters store and return raw row versions. The predicate
// passed to Scan is advisory, an adapter may use it to skip rows but the
// engine always re-applies the filter.
//
// Durability protocol: the engine calls WALFlush after every mutation
// batch, Checkpoint after every schema change, and Recover exactly once
// before serving traffic.
type Adapter interface {
	Open() error
	Recover() error
	Checkpoint() error
	WALFlush() error
	Shutdown() error

	CreateTable(schema *TableSchema) error
	CreateIndex(table string, index IndexSchema) error
	DropTable(name string) error
	TableSchema(name string) (*TableSchema, error)
	Tables() ([]string, error)

	InsertRow(table string, xmin uint64, tuple *common.Tuple) (uint64, error)
	SetXmax(table string, rowID uint64, xmax uint64) error
	Scan(table string, predicate string) (RowIterator, error)
}

// New builds the adapter selected by configuration
func New(c *cfg.Configuration) (Adapter, error) {
	switch c.Storage.Engine {
	case cfg.StorageMemory:
		return NewMemoryAdapter(), nil
	case cfg.StoragePebble:
		return NewPebbleAdapter(path.Join(c.DataDir, "store"), c.Storage), nil
	default:
		return nil, &StorageError{Op: "open", Message: fmt.Sprintf("unknown storage engine %q", c.Storage.Engine)}
	}
}
