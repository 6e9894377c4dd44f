package exec

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/telemetry"
	"github.com/minsql/minsql/txn"
)

// Mutate runs an insert, update, or delete. The snapshot decides which
// row versions the mutation sees; snap.Xid stamps the versions it
// writes. Every mutation ends with a WAL flush before it reports
// success.
func (e *Engine) Mutate(intent *lang.MutateIntent, snap *txn.Snapshot) (*Result, error) {
	start := time.Now()

	var affected int64
	var err error
	var kind string

	switch intent.Kind {
	case lang.MutateInsert:
		kind = "insert"
		affected, err = e.executeInsert(intent, snap)
	case lang.MutateUpdate:
		kind = "update"
		affected, err = e.executeUpdate(intent, snap)
	case lang.MutateDelete:
		kind = "delete"
		affected, err = e.executeDelete(intent, snap)
	default:
		return nil, fmt.Errorf("unknown mutation kind %v", intent.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := e.adapter.WALFlush(); err != nil {
		return nil, err
	}

	telemetry.QueryDurationSeconds.With(kind).Observe(time.Since(start).Seconds())
	telemetry.RowsAffected.Observe(float64(affected))
	log.Debug().
		Str("kind", kind).
		Str("table", intent.Table).
		Int64("affected", affected).
		Uint64("xid", snap.Xid).
		Msg("Mutation applied")
	return &Result{Affected: affected}, nil
}

func (e *Engine) executeInsert(intent *lang.MutateIntent, snap *txn.Snapshot) (int64, error) {
	schema, err := e.adapter.TableSchema(intent.Table)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, row := range intent.Rows {
		tuple, err := buildInsertTuple(schema, intent.Columns, row)
		if err != nil {
			return affected, err
		}

		rowID, err := e.adapter.InsertRow(intent.Table, snap.Xid, tuple)
		if err != nil {
			return affected, err
		}
		affected++
		e.emitChange("insert", intent.Table, snap.Xid, rowID, nil, tuple)
	}
	return affected, nil
}

// buildInsertTuple lays the row out in schema column order, filling
// unspecified nullable columns with null
func buildInsertTuple(schema *storage.TableSchema, columns []string, values []common.Value) (*common.Tuple, error) {
	byName := make(map[string]common.Value, len(columns))
	for i, col := range columns {
		if _, ok := schema.Column(col); !ok {
			return nil, typeMismatch("table %q has no column %q", schema.Name, col)
		}
		byName[col] = values[i]
	}

	tuple := common.NewTuple()
	for _, col := range schema.Columns {
		v, specified := byName[col.Name]
		if !specified {
			v = common.Null()
		}
		if v.IsNull() && !col.Nullable {
			return nil, typeMismatch("column %q is not nullable", col.Name)
		}
		if !v.IsNull() {
			if err := checkColumnType(&col, v); err != nil {
				return nil, err
			}
		}
		tuple.Set(col.Name, v)
	}
	return tuple, nil
}

func checkColumnType(col *storage.ColumnSchema, v common.Value) error {
	switch col.Type {
	case "int", "integer", "bigint":
		if v.Kind != common.KindInt {
			return typeMismatch("column %q expects %s, got %s", col.Name, col.Type, v.TypeName())
		}
	case "float", "real", "double":
		if v.Kind != common.KindInt && v.Kind != common.KindFloat {
			return typeMismatch("column %q expects %s, got %s", col.Name, col.Type, v.TypeName())
		}
	case "text", "string", "varchar":
		if v.Kind != common.KindString {
			return typeMismatch("column %q expects text, got %s", col.Name, v.TypeName())
		}
	case "bool", "boolean":
		if v.Kind != common.KindBool {
			return typeMismatch("column %q expects bool, got %s", col.Name, v.TypeName())
		}
	case "timestamp", "datetime":
		// Timestamps are carried as RFC 3339 text or integer nanoseconds
		if v.Kind != common.KindString && v.Kind != common.KindInt {
			return typeMismatch("column %q expects a timestamp, got %s", col.Name, v.TypeName())
		}
	}
	return nil
}

// executeUpdate deletes each matching version and inserts its successor,
// keeping the full version chain for time travel
func (e *Engine) executeUpdate(intent *lang.MutateIntent, snap *txn.Snapshot) (int64, error) {
	matches, err := e.collectMatches(intent.Table, intent.Filter, snap)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, row := range matches {
		updated := row.Tuple.Clone()
		for _, assign := range intent.Assignments {
			v, err := Evaluate(row.Tuple, assign.Value)
			if err != nil {
				return affected, err
			}
			updated.Set(assign.Column, v)
		}

		if err := e.adapter.SetXmax(intent.Table, row.ID, snap.Xid); err != nil {
			return affected, err
		}
		newID, err := e.adapter.InsertRow(intent.Table, snap.Xid, updated)
		if err != nil {
			return affected, err
		}
		affected++
		e.emitChange("update", intent.Table, snap.Xid, newID, row.Tuple, updated)
	}
	return affected, nil
}

func (e *Engine) executeDelete(intent *lang.MutateIntent, snap *txn.Snapshot) (int64, error) {
	matches, err := e.collectMatches(intent.Table, intent.Filter, snap)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, row := range matches {
		if err := e.adapter.SetXmax(intent.Table, row.ID, snap.Xid); err != nil {
			return affected, err
		}
		affected++
		e.emitChange("delete", intent.Table, snap.Xid, row.ID, row.Tuple, nil)
	}
	return affected, nil
}

// collectMatches materializes the visible rows satisfying the filter
// before any mutation touches the table, so the write set is fixed up
// front and the scan never observes its own writes
func (e *Engine) collectMatches(table string, filter lang.FilterIntent, snap *txn.Snapshot) ([]*storage.Row, error) {
	selector := ""
	if filter != nil {
		selector = filter.String()
	}

	iter, err := e.adapter.Scan(table, selector)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	sandbox := e.newSandbox()
	var matches []*storage.Row
	for {
		row, ok, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := sandbox.Tick(); err != nil {
			return nil, err
		}
		if !snap.Visible(row.Xmin, row.Xmax) {
			continue
		}
		if filter != nil {
			keep, err := EvaluateFilter(row.Tuple, filter)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		matches = append(matches, row)
	}
	return matches, nil
}

// CreateTable applies a schema intent and checkpoints storage
func (e *Engine) CreateTable(intent *lang.SchemaIntent) error {
	schema := &storage.TableSchema{Name: intent.Table}
	for _, col := range intent.Columns {
		schema.Columns = append(schema.Columns, storage.ColumnSchema{
			Name:       col.Name,
			Type:       col.Type,
			Nullable:   col.Nullable,
			PrimaryKey: col.PrimaryKey,
		})
	}

	if err := e.adapter.CreateTable(schema); err != nil {
		return err
	}
	if err := e.adapter.Checkpoint(); err != nil {
		return err
	}

	log.Info().Str("table", intent.Table).Int("columns", len(schema.Columns)).Msg("Table created")
	return nil
}

// CreateIndex registers a secondary index after validating its columns
// against the table schema
func (e *Engine) CreateIndex(intent *lang.SchemaIntent) error {
	schema, err := e.adapter.TableSchema(intent.Table)
	if err != nil {
		return err
	}
	for _, col := range intent.IndexColumns {
		if _, ok := schema.Column(col); !ok {
			return typeMismatch("table %q has no column %q", intent.Table, col)
		}
	}

	index := storage.IndexSchema{Name: intent.Index, Columns: intent.IndexColumns}
	if err := e.adapter.CreateIndex(intent.Table, index); err != nil {
		return err
	}
	if err := e.adapter.Checkpoint(); err != nil {
		return err
	}

	log.Info().
		Str("index", intent.Index).
		Str("table", intent.Table).
		Strs("columns", intent.IndexColumns).
		Msg("Index created")
	return nil
}

// DropTable removes the table, its rows, and its indexes
func (e *Engine) DropTable(intent *lang.SchemaIntent) error {
	if err := e.adapter.DropTable(intent.Table); err != nil {
		return err
	}
	if err := e.adapter.Checkpoint(); err != nil {
		return err
	}

	log.Info().Str("table", intent.Table).Msg("Table dropped")
	return nil
}

func (e *Engine) emitChange(op, table string, xid, rowID uint64, before, after *common.Tuple) {
	telemetry.ChangeEventsTotal.With(op).Inc()
	if e.hook == nil {
		return
	}
	shard := e.router.Keyspace().ShardForRow(table, rowID)
	e.hook(op, table, shard, xid, rowID, before, after)
}
