package exec

import (
	"fmt"
	"strings"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

// hashAggregateOperator groups its input in a hash table keyed by the
// canonical encoding of the evaluated group-by values. Without group-by
// expressions it produces exactly one row, even over empty input.
type hashAggregateOperator struct {
	input      Operator
	groupBy    []lang.ExpressionIntent
	aggregates []lang.AggregateIntent

	ctx     *Context
	groups  map[string]*aggGroup
	order   []string
	memHeld uint64
	done    bool
	pos     int
}

type aggGroup struct {
	keyValues []common.Value
	states    []*aggState
}

type aggState struct {
	fn       string
	count    int64
	sumInt   int64
	sumFloat float64
	isFloat  bool
	extreme  common.Value
	seen     bool
}

func (h *hashAggregateOperator) Open(ctx *Context) error {
	h.ctx = ctx
	h.groups = make(map[string]*aggGroup)
	h.order = nil
	h.memHeld = 0
	h.done = false
	h.pos = 0
	return h.input.Open(ctx)
}

func (h *hashAggregateOperator) consume() error {
	for {
		tuple, ok, err := h.input.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := h.ctx.Sandbox.Tick(); err != nil {
			return err
		}

		keyValues := make([]common.Value, len(h.groupBy))
		for i, expr := range h.groupBy {
			v, err := Evaluate(tuple, expr)
			if err != nil {
				return err
			}
			keyValues[i] = v
		}
		key := groupKey(keyValues)

		group, exists := h.groups[key]
		if !exists {
			group = &aggGroup{
				keyValues: keyValues,
				states:    make([]*aggState, len(h.aggregates)),
			}
			for i, agg := range h.aggregates {
				group.states[i] = &aggState{fn: strings.ToLower(agg.Func)}
			}
			h.groups[key] = group
			h.order = append(h.order, key)

			size := uint64(len(key)) + 64*uint64(len(group.states))
			if err := h.ctx.Sandbox.TrackMemory(size); err != nil {
				return err
			}
			h.memHeld += size
		}

		for i, agg := range h.aggregates {
			if err := group.states[i].accumulate(tuple, agg); err != nil {
				return err
			}
		}
	}

	// A grand aggregate over empty input still yields one group
	if len(h.groupBy) == 0 && len(h.groups) == 0 {
		group := &aggGroup{states: make([]*aggState, len(h.aggregates))}
		for i, agg := range h.aggregates {
			group.states[i] = &aggState{fn: strings.ToLower(agg.Func)}
		}
		h.groups[""] = group
		h.order = append(h.order, "")
	}

	h.done = true
	return nil
}

func (h *hashAggregateOperator) Next() (*common.Tuple, bool, error) {
	if !h.done {
		if err := h.consume(); err != nil {
			return nil, false, err
		}
	}
	if h.pos >= len(h.order) {
		return nil, false, nil
	}

	group := h.groups[h.order[h.pos]]
	h.pos++

	out := common.NewTuple()
	for i, expr := range h.groupBy {
		out.Set(expr.String(), group.keyValues[i])
	}
	for i, agg := range h.aggregates {
		out.Set(agg.Name(), group.states[i].result())
	}
	return out, true, nil
}

func (h *hashAggregateOperator) Close() error {
	h.ctx.Sandbox.ReleaseMemory(h.memHeld)
	h.groups = nil
	return h.input.Close()
}

// groupKey canonically encodes the evaluated group-by values so equal
// groups always hash to the same bucket
func groupKey(values []common.Value) string {
	t := common.NewTuple()
	for i, v := range values {
		t.Set(fmt.Sprintf("k%03d", i), v)
	}
	return t.CanonicalJSON()
}

func (s *aggState) accumulate(tuple *common.Tuple, agg lang.AggregateIntent) error {
	if agg.Star {
		s.count++
		return nil
	}

	v, err := Evaluate(tuple, agg.Arg)
	if err != nil {
		return err
	}
	// Nulls never feed an aggregate
	if v.IsNull() {
		return nil
	}

	switch s.fn {
	case "count":
		s.count++

	case "sum", "avg":
		switch v.Kind {
		case common.KindInt:
			s.sumInt += v.I
		case common.KindFloat:
			s.isFloat = true
			s.sumFloat += v.F
		default:
			return typeMismatch("%s expects a number, got %s", s.fn, v.TypeName())
		}
		s.count++

	case "min":
		if !s.seen {
			s.extreme = v
			s.seen = true
			break
		}
		cmp, ok := v.Compare(s.extreme)
		if !ok {
			return typeMismatch("min over mixed types %s and %s", v.TypeName(), s.extreme.TypeName())
		}
		if cmp < 0 {
			s.extreme = v
		}

	case "max":
		if !s.seen {
			s.extreme = v
			s.seen = true
			break
		}
		cmp, ok := v.Compare(s.extreme)
		if !ok {
			return typeMismatch("max over mixed types %s and %s", v.TypeName(), s.extreme.TypeName())
		}
		if cmp > 0 {
			s.extreme = v
		}

	default:
		return &ExecError{Kind: UnknownFunction, Message: "unknown aggregate " + s.fn}
	}
	return nil
}

func (s *aggState) result() common.Value {
	switch s.fn {
	case "count":
		return common.Int(s.count)

	case "sum":
		if s.count == 0 {
			return common.Null()
		}
		if s.isFloat {
			return common.Float(s.sumFloat + float64(s.sumInt))
		}
		return common.Int(s.sumInt)

	case "avg":
		if s.count == 0 {
			return common.Null()
		}
		total := s.sumFloat + float64(s.sumInt)
		return common.Float(total / float64(s.count))

	case "min", "max":
		if !s.seen {
			return common.Null()
		}
		return s.extreme
	}
	return common.Null()
}
