package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/telemetry"
)

// memTable holds all versions of one table's rows. Rows are append-only;
// deletion stamps Xmax in place.
type memTable struct {
	mu     sync.RWMutex
	schema *TableSchema
	rows   []*Row
}

// MemoryAdapter is the non-durable adapter. WALFlush and Checkpoint only
// record telemetry so the engine's durability protocol stays uniform
// across adapters.
type MemoryAdapter struct {
	tables     *xsync.MapOf[string, *memTable]
	nextRowID  atomic.Uint64
	sinceFlush atomic.Uint64
}

var _ Adapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter creates an empty in-memory adapter
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{tables: xsync.NewMapOf[string, *memTable]()}
}

func (a *MemoryAdapter) Open() error {
	return nil
}

func (a *MemoryAdapter) Recover() error {
	return nil
}

func (a *MemoryAdapter) Checkpoint() error {
	telemetry.CheckpointsTotal.Inc()
	return nil
}

func (a *MemoryAdapter) WALFlush() error {
	start := time.Now()
	n := a.sinceFlush.Swap(0)
	telemetry.WALFlushBatchSize.Observe(float64(n))
	telemetry.WALFlushSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func (a *MemoryAdapter) Shutdown() error {
	return nil
}

func (a *MemoryAdapter) CreateTable(schema *TableSchema) error {
	if _, loaded := a.tables.LoadOrStore(schema.Name, &memTable{schema: schema}); loaded {
		return &StorageError{Op: "create_table", Message: fmt.Sprintf("table %q already exists", schema.Name)}
	}
	return nil
}

func (a *MemoryAdapter) CreateIndex(table string, index IndexSchema) error {
	t, ok := a.tables.Load(table)
	if !ok {
		return &StorageError{Op: "create_index", Message: fmt.Sprintf("table %q does not exist", table)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.schema.Index(index.Name); exists {
		return &StorageError{Op: "create_index", Message: fmt.Sprintf("index %q already exists", index.Name)}
	}
	t.schema.Indexes = append(t.schema.Indexes, index)
	return nil
}

func (a *MemoryAdapter) DropTable(name string) error {
	if _, loaded := a.tables.LoadAndDelete(name); !loaded {
		return &StorageError{Op: "drop_table", Message: fmt.Sprintf("table %q does not exist", name)}
	}
	return nil
}

func (a *MemoryAdapter) TableSchema(name string) (*TableSchema, error) {
	t, ok := a.tables.Load(name)
	if !ok {
		return nil, &StorageError{Op: "table_schema", Message: fmt.Sprintf("table %q does not exist", name)}
	}
	return t.schema, nil
}

func (a *MemoryAdapter) Tables() ([]string, error) {
	var names []string
	a.tables.Range(func(name string, _ *memTable) bool {
		names = append(names, name)
		return true
	})
	return names, nil
}

func (a *MemoryAdapter) InsertRow(table string, xmin uint64, tuple *common.Tuple) (uint64, error) {
	t, ok := a.tables.Load(table)
	if !ok {
		return 0, &StorageError{Op: "insert", Message: fmt.Sprintf("table %q does not exist", table)}
	}

	id := a.nextRowID.Add(1)
	t.mu.Lock()
	t.rows = append(t.rows, &Row{ID: id, Xmin: xmin, Tuple: tuple})
	t.mu.Unlock()

	a.sinceFlush.Add(1)
	telemetry.MutationsTotal.With("insert").Inc()
	return id, nil
}

func (a *MemoryAdapter) SetXmax(table string, rowID uint64, xmax uint64) error {
	t, ok := a.tables.Load(table)
	if !ok {
		return &StorageError{Op: "set_xmax", Message: fmt.Sprintf("table %q does not exist", table)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rows {
		if r.ID == rowID {
			r.Xmax = xmax
			a.sinceFlush.Add(1)
			telemetry.MutationsTotal.With("set_xmax").Inc()
			return nil
		}
	}
	return &StorageError{Op: "set_xmax", Message: fmt.Sprintf("row %d not found in table %q", rowID, table)}
}

// Scan ignores the advisory predicate, the engine re-filters every row
func (a *MemoryAdapter) Scan(table string, _ string) (RowIterator, error) {
	t, ok := a.tables.Load(table)
	if !ok {
		return nil, &StorageError{Op: "scan", Message: fmt.Sprintf("table %q does not exist", table)}
	}

	// Snapshot under the read lock so concurrent mutations cannot
	// invalidate the iterator
	t.mu.RLock()
	rows := make([]*Row, len(t.rows))
	for i, r := range t.rows {
		copied := *r
		rows[i] = &copied
	}
	t.mu.RUnlock()

	return &sliceIterator{rows: rows}, nil
}

type sliceIterator struct {
	rows []*Row
	pos  int
}

func (it *sliceIterator) Next() (*Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r, true, nil
}

func (it *sliceIterator) Close() error {
	return nil
}
