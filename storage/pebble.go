package storage

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/encoding"
	"github.com/minsql/minsql/telemetry"
)

// Key prefixes, sorted for efficient prefix iteration
const (
	prefixSchema = "/schema/" // /schema/{tableName}
	prefixRow    = "/row/"    // /row/{tableName}/{rowID:016x}
	keyRowSeq    = "/seq/rowid"
)

const rowSeqBandwidth = 1000

// rowRecord is the on-disk row version layout
type rowRecord struct {
	Xmin uint64
	Xmax uint64
	Cols []string
	Vals []common.Value
}

// PebbleAdapter stores row versions in a Pebble keyspace. Mutations ride
// a shared group-commit batch; the engine's WALFlush call is the single
// fsync point.
type PebbleAdapter struct {
	path string
	conf cfg.StorageConfiguration
	db   *pebble.DB

	committer *groupCommitter
	rowSeq    *rowSequence

	schemaMu sync.RWMutex
	schemas  map[string]*TableSchema

	closed atomic.Bool
}

var _ Adapter = (*PebbleAdapter)(nil)

// NewPebbleAdapter creates an adapter rooted at path. Open must be called
// before any other method.
func NewPebbleAdapter(path string, conf cfg.StorageConfiguration) *PebbleAdapter {
	return &PebbleAdapter{
		path:    path,
		conf:    conf,
		schemas: make(map[string]*TableSchema),
	}
}

// pebbleLogger routes Pebble's internal logging through zerolog
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

func (a *PebbleAdapter) Open() error {
	cache := pebble.NewCache(int64(a.conf.BufferPoolPages) * 4096)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:           cache,
		WALBytesPerSync: a.conf.WALBufferBytes,
		Logger:          &pebbleLogger{},
	}

	db, err := pebble.Open(a.path, opts)
	if err != nil {
		return &StorageError{Op: "open", Message: "opening pebble store", Err: err}
	}
	a.db = db

	seq, err := newRowSequence(db, []byte(keyRowSeq), rowSeqBandwidth)
	if err != nil {
		db.Close()
		return &StorageError{Op: "open", Message: "restoring row sequence", Err: err}
	}
	a.rowSeq = seq

	flushWait := time.Duration(a.conf.FlushIntervalMS) * time.Millisecond
	if flushWait <= 0 {
		flushWait = time.Millisecond
	}
	a.committer = newGroupCommitter(db, flushWait)

	return nil
}

// Recover reloads table schemas and reconciles the row id sequence with
// the highest persisted row. Called once before the node serves traffic.
func (a *PebbleAdapter) Recover() error {
	prefix := []byte(prefixSchema)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return &StorageError{Op: "recover", Message: "scanning schemas", Err: err}
	}

	a.schemaMu.Lock()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			continue
		}
		schema := &TableSchema{}
		if err := encoding.Unmarshal(val, schema); err != nil {
			log.Warn().Str("key", string(iter.Key())).Err(err).Msg("Skipping undecodable schema record")
			continue
		}
		a.schemas[schema.Name] = schema
	}
	a.schemaMu.Unlock()
	if err := iter.Close(); err != nil {
		return &StorageError{Op: "recover", Message: "closing schema scan", Err: err}
	}

	maxID, err := a.maxPersistedRowID()
	if err != nil {
		return err
	}
	a.rowSeq.EnsureAbove(maxID)

	log.Info().
		Int("tables", len(a.schemas)).
		Uint64("max_row_id", maxID).
		Msg("Storage recovered")
	return nil
}

func (a *PebbleAdapter) maxPersistedRowID() (uint64, error) {
	prefix := []byte(prefixRow)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, &StorageError{Op: "recover", Message: "scanning rows", Err: err}
	}
	defer iter.Close()

	var max uint64
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		id, ok := rowIDFromKey(iter.Key())
		if ok && id > max {
			max = id
		}
	}
	return max, iter.Error()
}

// Checkpoint flushes memtables so the recovery window stays short after
// schema changes
func (a *PebbleAdapter) Checkpoint() error {
	if err := a.db.Flush(); err != nil {
		return &StorageError{Op: "checkpoint", Message: "flushing memtables", Err: err}
	}
	telemetry.CheckpointsTotal.Inc()
	return nil
}

func (a *PebbleAdapter) WALFlush() error {
	if err := a.committer.Sync(); err != nil {
		return &StorageError{Op: "wal_flush", Message: "syncing log", Err: err}
	}
	return nil
}

func (a *PebbleAdapter) Shutdown() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.committer.Stop()
	if err := a.rowSeq.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist row sequence on shutdown")
	}
	return a.db.Close()
}

func (a *PebbleAdapter) CreateTable(schema *TableSchema) error {
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	if _, ok := a.schemas[schema.Name]; ok {
		return &StorageError{Op: "create_table", Message: fmt.Sprintf("table %q already exists", schema.Name)}
	}

	data, err := encoding.Marshal(schema)
	if err != nil {
		return &StorageError{Op: "create_table", Message: "encoding schema", Err: err}
	}
	if err := a.db.Set(schemaKey(schema.Name), data, pebble.Sync); err != nil {
		return &StorageError{Op: "create_table", Message: "persisting schema", Err: err}
	}

	a.schemas[schema.Name] = schema
	return nil
}

// CreateIndex records the index on the table schema and re-persists it
func (a *PebbleAdapter) CreateIndex(table string, index IndexSchema) error {
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	schema, ok := a.schemas[table]
	if !ok {
		return &StorageError{Op: "create_index", Message: fmt.Sprintf("table %q does not exist", table)}
	}
	if _, exists := schema.Index(index.Name); exists {
		return &StorageError{Op: "create_index", Message: fmt.Sprintf("index %q already exists", index.Name)}
	}

	schema.Indexes = append(schema.Indexes, index)
	data, err := encoding.Marshal(schema)
	if err != nil {
		schema.Indexes = schema.Indexes[:len(schema.Indexes)-1]
		return &StorageError{Op: "create_index", Message: "encoding schema", Err: err}
	}
	if err := a.db.Set(schemaKey(table), data, pebble.Sync); err != nil {
		schema.Indexes = schema.Indexes[:len(schema.Indexes)-1]
		return &StorageError{Op: "create_index", Message: "persisting schema", Err: err}
	}
	return nil
}

func (a *PebbleAdapter) DropTable(name string) error {
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	if _, ok := a.schemas[name]; !ok {
		return &StorageError{Op: "drop_table", Message: fmt.Sprintf("table %q does not exist", name)}
	}

	prefix := rowPrefix(name)
	if err := a.db.DeleteRange(prefix, prefixUpperBound(prefix), pebble.NoSync); err != nil {
		return &StorageError{Op: "drop_table", Message: "deleting rows", Err: err}
	}
	if err := a.db.Delete(schemaKey(name), pebble.Sync); err != nil {
		return &StorageError{Op: "drop_table", Message: "deleting schema", Err: err}
	}

	delete(a.schemas, name)
	return nil
}

func (a *PebbleAdapter) TableSchema(name string) (*TableSchema, error) {
	a.schemaMu.RLock()
	defer a.schemaMu.RUnlock()
	schema, ok := a.schemas[name]
	if !ok {
		return nil, &StorageError{Op: "table_schema", Message: fmt.Sprintf("table %q does not exist", name)}
	}
	return schema, nil
}

func (a *PebbleAdapter) Tables() ([]string, error) {
	a.schemaMu.RLock()
	defer a.schemaMu.RUnlock()
	names := make([]string, 0, len(a.schemas))
	for name := range a.schemas {
		names = append(names, name)
	}
	return names, nil
}

func (a *PebbleAdapter) InsertRow(table string, xmin uint64, tuple *common.Tuple) (uint64, error) {
	if _, err := a.TableSchema(table); err != nil {
		return 0, err
	}

	id, err := a.rowSeq.Next()
	if err != nil {
		return 0, &StorageError{Op: "insert", Message: "allocating row id", Err: err}
	}

	data, err := encodeRow(xmin, 0, tuple)
	if err != nil {
		return 0, &StorageError{Op: "insert", Message: "encoding row", Err: err}
	}

	key := rowKey(table, id)
	fut := a.committer.Enqueue(func(b *pebble.Batch) error {
		return b.Set(key, data, nil)
	})
	if _, err := fut.Get(); err != nil {
		return 0, &StorageError{Op: "insert", Message: "committing row", Err: err}
	}

	telemetry.MutationsTotal.With("insert").Inc()
	return id, nil
}

func (a *PebbleAdapter) SetXmax(table string, rowID uint64, xmax uint64) error {
	key := rowKey(table, rowID)
	val, closer, err := a.db.Get(key)
	if err == pebble.ErrNotFound {
		return &StorageError{Op: "set_xmax", Message: fmt.Sprintf("row %d not found in table %q", rowID, table)}
	}
	if err != nil {
		return &StorageError{Op: "set_xmax", Message: "reading row", Err: err}
	}

	var rec rowRecord
	decodeErr := encoding.Unmarshal(val, &rec)
	closer.Close()
	if decodeErr != nil {
		return &StorageError{Op: "set_xmax", Message: "decoding row", Err: decodeErr}
	}

	rec.Xmax = xmax
	data, err := encoding.Marshal(&rec)
	if err != nil {
		return &StorageError{Op: "set_xmax", Message: "encoding row", Err: err}
	}

	fut := a.committer.Enqueue(func(b *pebble.Batch) error {
		return b.Set(key, data, nil)
	})
	if _, err := fut.Get(); err != nil {
		return &StorageError{Op: "set_xmax", Message: "committing row", Err: err}
	}

	telemetry.MutationsTotal.With("set_xmax").Inc()
	return nil
}

// Scan ignores the advisory predicate, the engine re-filters every row
func (a *PebbleAdapter) Scan(table string, _ string) (RowIterator, error) {
	if _, err := a.TableSchema(table); err != nil {
		return nil, err
	}

	prefix := rowPrefix(table)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, &StorageError{Op: "scan", Message: "opening iterator", Err: err}
	}
	iter.SeekGE(prefix)

	return &pebbleIterator{iter: iter}, nil
}

type pebbleIterator struct {
	iter *pebble.Iterator
}

func (it *pebbleIterator) Next() (*Row, bool, error) {
	for it.iter.Valid() {
		id, ok := rowIDFromKey(it.iter.Key())
		if !ok {
			it.iter.Next()
			continue
		}

		val, err := it.iter.ValueAndErr()
		if err != nil {
			return nil, false, &StorageError{Op: "scan", Message: "reading row", Err: err}
		}

		var rec rowRecord
		if err := encoding.Unmarshal(val, &rec); err != nil {
			return nil, false, &StorageError{Op: "scan", Message: "decoding row", Err: err}
		}
		it.iter.Next()

		return &Row{ID: id, Xmin: rec.Xmin, Xmax: rec.Xmax, Tuple: decodeTuple(&rec)}, true, nil
	}
	return nil, false, it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}

func encodeRow(xmin, xmax uint64, tuple *common.Tuple) ([]byte, error) {
	cols := tuple.Columns()
	rec := rowRecord{Xmin: xmin, Xmax: xmax, Cols: cols, Vals: make([]common.Value, len(cols))}
	for i, c := range cols {
		rec.Vals[i], _ = tuple.Get(c)
	}
	return encoding.Marshal(&rec)
}

func decodeTuple(rec *rowRecord) *common.Tuple {
	t := common.NewTuple()
	for i, c := range rec.Cols {
		if i < len(rec.Vals) {
			t.Set(c, rec.Vals[i])
		}
	}
	return t
}

func schemaKey(table string) []byte {
	return []byte(prefixSchema + table)
}

func rowPrefix(table string) []byte {
	return []byte(prefixRow + table + "/")
}

func rowKey(table string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefixRow, table, id))
}

// rowIDFromKey extracts the trailing row id from a row key
func rowIDFromKey(key []byte) (uint64, bool) {
	if len(key) < 16 {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(string(key[len(key)-16:]), "%016x", &id); err != nil {
		return 0, false
	}
	return id, true
}

// prefixUpperBound returns prefix + 0xFF padding for range iteration
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix)+8)
	copy(upper, prefix)
	for i := len(prefix); i < len(upper); i++ {
		upper[i] = 0xFF
	}
	return upper
}

// rowSequence allocates row ids in persisted leases so a restart never
// reissues an id that may already be on disk
type rowSequence struct {
	db        *pebble.DB
	key       []byte
	bandwidth uint64

	mu       sync.Mutex
	nextVal  uint64
	leaseEnd uint64
}

func newRowSequence(db *pebble.DB, key []byte, bandwidth uint64) (*rowSequence, error) {
	var leaseEnd uint64

	val, closer, err := db.Get(key)
	if err == nil {
		if len(val) >= 8 {
			leaseEnd = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, err
	}

	return &rowSequence{
		db:        db,
		key:       key,
		bandwidth: bandwidth,
		nextVal:   leaseEnd,
		leaseEnd:  leaseEnd,
	}, nil
}

func (s *rowSequence) Next() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextVal >= s.leaseEnd {
		newLease := s.leaseEnd + s.bandwidth
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, newLease)
		if err := s.db.Set(s.key, buf, pebble.Sync); err != nil {
			return 0, err
		}
		s.leaseEnd = newLease
	}

	s.nextVal++
	return s.nextVal, nil
}

// EnsureAbove bumps the sequence past floor, used after recovery when the
// persisted lease may trail the highest row actually on disk
func (s *rowSequence) EnsureAbove(floor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextVal < floor {
		s.nextVal = floor
	}
	if s.leaseEnd < floor {
		s.leaseEnd = floor
	}
}

// Close persists the unused portion of the current lease to minimize id
// gaps on restart
func (s *rowSequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, s.nextVal)
	return s.db.Set(s.key, buf, pebble.Sync)
}
