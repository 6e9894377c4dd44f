package exec

import (
	"sort"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

// sortOperator materializes its input and orders it by the sort keys.
// Nulls sort before every other value.
type sortOperator struct {
	input Operator
	keys  []lang.OrderIntent

	ctx      *Context
	tuples   []*common.Tuple
	pos      int
	memHeld  uint64
	sortDone bool
}

func (s *sortOperator) Open(ctx *Context) error {
	s.ctx = ctx
	s.tuples = nil
	s.pos = 0
	s.memHeld = 0
	s.sortDone = false
	return s.input.Open(ctx)
}

func (s *sortOperator) Next() (*common.Tuple, bool, error) {
	if !s.sortDone {
		if err := s.materialize(); err != nil {
			return nil, false, err
		}
	}
	if s.pos >= len(s.tuples) {
		return nil, false, nil
	}
	t := s.tuples[s.pos]
	s.pos++
	return t, true, nil
}

func (s *sortOperator) materialize() error {
	for {
		tuple, ok, err := s.input.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := s.ctx.Sandbox.Tick(); err != nil {
			return err
		}
		size := tuple.MemorySize()
		if err := s.ctx.Sandbox.TrackMemory(size); err != nil {
			return err
		}
		s.memHeld += size
		s.tuples = append(s.tuples, tuple)
	}

	var sortErr error
	sort.SliceStable(s.tuples, func(i, j int) bool {
		for _, key := range s.keys {
			vi, err := Evaluate(s.tuples[i], key.Expr)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := Evaluate(s.tuples[j], key.Expr)
			if err != nil {
				sortErr = err
				return false
			}
			cmp := orderCompare(vi, vj)
			if cmp == 0 {
				continue
			}
			if key.Order == lang.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if sortErr != nil {
		return sortErr
	}

	s.sortDone = true
	return nil
}

func (s *sortOperator) Close() error {
	s.ctx.Sandbox.ReleaseMemory(s.memHeld)
	s.tuples = nil
	return s.input.Close()
}

// orderCompare is a total order over values for sorting: null first,
// then the natural comparison, with incomparable pairs left equal
func orderCompare(a, b common.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	if cmp, ok := a.Compare(b); ok {
		return cmp
	}
	return 0
}
