package exec

import (
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/txn"
)

// scanOperator reads visible row versions from one table. The predicate
// is pushed to the adapter as an advisory selector and re-applied here;
// adapters are free to ignore it.
type scanOperator struct {
	table     string
	alias     string
	columns   []string // nil keeps every column
	predicate lang.FilterIntent
	travel    *lang.TimeTravel

	ctx      *Context
	iter     storage.RowIterator
	snapshot *txn.Snapshot
	window   *txn.Window
}

func newScanOperator(table, alias string, columns []string, predicate lang.FilterIntent, travel *lang.TimeTravel) *scanOperator {
	return &scanOperator{table: table, alias: alias, columns: columns, predicate: predicate, travel: travel}
}

func (s *scanOperator) Open(ctx *Context) error {
	s.ctx = ctx

	// Time travel replaces the session snapshot with a historical one
	// resolved against the commit log
	if s.travel != nil {
		if s.travel.Until != nil {
			s.window = ctx.Manager.SnapshotWindow(s.travel.At, *s.travel.Until)
		} else {
			s.snapshot = ctx.Manager.SnapshotAt(s.travel.At)
		}
	} else {
		s.snapshot = ctx.Snapshot
	}

	selector := ""
	if s.predicate != nil {
		selector = s.predicate.String()
	}

	iter, err := ctx.Adapter.Scan(s.table, selector)
	if err != nil {
		return err
	}
	s.iter = iter
	return nil
}

func (s *scanOperator) Next() (*common.Tuple, bool, error) {
	for {
		row, ok, err := s.iter.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if err := s.ctx.Sandbox.Tick(); err != nil {
			return nil, false, err
		}

		if !s.visible(row) {
			continue
		}

		tuple := s.qualify(row.Tuple)
		if s.predicate != nil {
			keep, err := EvaluateFilter(tuple, s.predicate)
			if err != nil {
				return nil, false, err
			}
			if !keep {
				continue
			}
		}
		return tuple, true, nil
	}
}

func (s *scanOperator) Close() error {
	if s.iter == nil {
		return nil
	}
	return s.iter.Close()
}

func (s *scanOperator) visible(row *storage.Row) bool {
	if s.window != nil {
		return s.window.VisibleInWindow(row.Xmin, row.Xmax)
	}
	return s.snapshot.Visible(row.Xmin, row.Xmax)
}

// qualify rewrites stored column names under the scan's binding prefix
// and applies column pruning
func (s *scanOperator) qualify(raw *common.Tuple) *common.Tuple {
	prefix := s.table
	if s.alias != "" {
		prefix = s.alias
	}

	out := common.NewTuple()
	for _, col := range raw.Columns() {
		if s.columns != nil && !s.wantColumn(col) {
			continue
		}
		v, _ := raw.Get(col)
		out.Set(prefix+"."+col, v)
	}
	return out
}

func (s *scanOperator) wantColumn(col string) bool {
	prefix := s.table
	if s.alias != "" {
		prefix = s.alias
	}
	for _, want := range s.columns {
		if want == col || want == prefix+"."+col {
			return true
		}
	}
	return false
}
