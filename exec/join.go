package exec

import (
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

// hashJoinOperator builds a hash table over the right input and probes
// it with the left, so output follows left-input order. Valid only for
// single-column equality conditions; the planner guarantees the shape.
type hashJoinOperator struct {
	kind      lang.JoinKind
	left      Operator
	right     Operator
	condition lang.FilterIntent

	ctx      *Context
	buildKey lang.ExpressionIntent
	probeKey lang.ExpressionIntent

	table   map[string][]*common.Tuple
	memHeld uint64
	built   bool

	// Probe state
	pending []*common.Tuple
}

func (h *hashJoinOperator) Open(ctx *Context) error {
	h.ctx = ctx
	h.table = make(map[string][]*common.Tuple)
	h.built = false
	h.pending = nil

	if err := h.left.Open(ctx); err != nil {
		return err
	}
	return h.right.Open(ctx)
}

// resolveKeys decides which side of the equality belongs to the build
// input by checking which column the first build tuple carries
func (h *hashJoinOperator) resolveKeys(sample *common.Tuple) {
	cmp := h.condition.(*lang.FilterComparison)
	if exprBoundTo(sample, cmp.Right) {
		h.buildKey, h.probeKey = cmp.Right, cmp.Left
	} else {
		h.buildKey, h.probeKey = cmp.Left, cmp.Right
	}
}

// exprBoundTo reports whether a column reference resolves in the tuple
func exprBoundTo(tuple *common.Tuple, expr lang.ExpressionIntent) bool {
	switch e := expr.(type) {
	case *lang.ColumnIntent:
		_, ok := tuple.Get(e.Name)
		return ok
	case *lang.QualifiedColumnIntent:
		_, ok := tuple.Get(e.Table + "." + e.Name)
		return ok
	}
	return false
}

func (h *hashJoinOperator) build() error {
	for {
		tuple, ok, err := h.right.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := h.ctx.Sandbox.Tick(); err != nil {
			return err
		}
		size := tuple.MemorySize()
		if err := h.ctx.Sandbox.TrackMemory(size); err != nil {
			return err
		}
		h.memHeld += size

		if h.buildKey == nil {
			h.resolveKeys(tuple)
		}
		key, err := Evaluate(tuple, h.buildKey)
		if err != nil {
			return err
		}
		if key.IsNull() {
			// Null keys never join
			continue
		}
		ks := key.String()
		h.table[ks] = append(h.table[ks], tuple)
	}
	h.built = true
	return nil
}

func (h *hashJoinOperator) Next() (*common.Tuple, bool, error) {
	if !h.built {
		if err := h.build(); err != nil {
			return nil, false, err
		}
	}

	for {
		if len(h.pending) > 0 {
			out := h.pending[0]
			h.pending = h.pending[1:]
			return out, true, nil
		}

		probe, ok, err := h.left.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if err := h.ctx.Sandbox.Tick(); err != nil {
			return nil, false, err
		}

		if h.buildKey == nil {
			// Empty build side: nothing can match
			if h.kind == lang.JoinLeftOuter {
				return probe, true, nil
			}
			continue
		}

		key, err := Evaluate(probe, h.probeKey)
		if err != nil {
			return nil, false, err
		}
		matched := false
		if !key.IsNull() {
			for _, entry := range h.table[key.String()] {
				merged := probe.Merge(entry)
				keep, err := EvaluateFilter(merged, h.condition)
				if err != nil {
					return nil, false, err
				}
				if keep {
					matched = true
					h.pending = append(h.pending, merged)
				}
			}
		}
		// An unmatched probe row surfaces immediately, so the outer
		// join preserves left-input order too
		if !matched && h.kind == lang.JoinLeftOuter {
			return probe, true, nil
		}
	}
}

func (h *hashJoinOperator) Close() error {
	h.ctx.Sandbox.ReleaseMemory(h.memHeld)
	h.table = nil
	lerr := h.left.Close()
	rerr := h.right.Close()
	if lerr != nil {
		return lerr
	}
	return rerr
}

// nestedLoopJoinOperator evaluates the condition for every pair. The
// right input is materialized once and rescanned per left tuple.
type nestedLoopJoinOperator struct {
	kind      lang.JoinKind
	left      Operator
	right     Operator
	condition lang.FilterIntent

	ctx     *Context
	inner   []*common.Tuple
	memHeld uint64
	loaded  bool

	outer        *common.Tuple
	outerMatched bool
	innerPos     int
}

func (n *nestedLoopJoinOperator) Open(ctx *Context) error {
	n.ctx = ctx
	n.inner = nil
	n.loaded = false
	n.outer = nil
	n.innerPos = 0

	if err := n.left.Open(ctx); err != nil {
		return err
	}
	return n.right.Open(ctx)
}

func (n *nestedLoopJoinOperator) loadInner() error {
	for {
		tuple, ok, err := n.right.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := n.ctx.Sandbox.Tick(); err != nil {
			return err
		}
		size := tuple.MemorySize()
		if err := n.ctx.Sandbox.TrackMemory(size); err != nil {
			return err
		}
		n.memHeld += size
		n.inner = append(n.inner, tuple)
	}
	n.loaded = true
	return nil
}

func (n *nestedLoopJoinOperator) Next() (*common.Tuple, bool, error) {
	if !n.loaded {
		if err := n.loadInner(); err != nil {
			return nil, false, err
		}
	}

	for {
		if n.outer == nil {
			outer, ok, err := n.left.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			if err := n.ctx.Sandbox.Tick(); err != nil {
				return nil, false, err
			}
			n.outer = outer
			n.outerMatched = false
			n.innerPos = 0
		}

		for n.innerPos < len(n.inner) {
			inner := n.inner[n.innerPos]
			n.innerPos++

			merged := n.outer.Merge(inner)
			keep, err := EvaluateFilter(merged, n.condition)
			if err != nil {
				return nil, false, err
			}
			if keep {
				n.outerMatched = true
				return merged, true, nil
			}
		}

		// Inner exhausted for this outer tuple
		outer := n.outer
		matched := n.outerMatched
		n.outer = nil

		if n.kind == lang.JoinLeftOuter && !matched {
			return outer, true, nil
		}
	}
}

func (n *nestedLoopJoinOperator) Close() error {
	n.ctx.Sandbox.ReleaseMemory(n.memHeld)
	n.inner = nil
	lerr := n.left.Close()
	rerr := n.right.Close()
	if lerr != nil {
		return lerr
	}
	return rerr
}
