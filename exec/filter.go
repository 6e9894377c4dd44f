package exec

import (
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

// filterOperator drops tuples failing the predicate
type filterOperator struct {
	input     Operator
	predicate lang.FilterIntent
	ctx       *Context
}

func (f *filterOperator) Open(ctx *Context) error {
	f.ctx = ctx
	return f.input.Open(ctx)
}

func (f *filterOperator) Next() (*common.Tuple, bool, error) {
	for {
		tuple, ok, err := f.input.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		if err := f.ctx.Sandbox.Tick(); err != nil {
			return nil, false, err
		}
		keep, err := EvaluateFilter(tuple, f.predicate)
		if err != nil {
			return nil, false, err
		}
		if keep {
			return tuple, true, nil
		}
	}
}

func (f *filterOperator) Close() error {
	return f.input.Close()
}

// projectOperator computes the output columns. Star passes tuples
// through unchanged.
type projectOperator struct {
	input   Operator
	star    bool
	columns []lang.Projection
	ctx     *Context
}

func (p *projectOperator) Open(ctx *Context) error {
	p.ctx = ctx
	return p.input.Open(ctx)
}

func (p *projectOperator) Next() (*common.Tuple, bool, error) {
	tuple, ok, err := p.input.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	if p.star {
		return tuple, true, nil
	}

	out := common.NewTuple()
	for _, proj := range p.columns {
		v, err := Evaluate(tuple, proj.Expr)
		if err != nil {
			return nil, false, err
		}
		out.Set(proj.Name(), v)
	}
	return out, true, nil
}

func (p *projectOperator) Close() error {
	return p.input.Close()
}

// limitOperator skips offset tuples then yields at most count
type limitOperator struct {
	input  Operator
	count  int64
	offset int64

	skipped int64
	emitted int64
}

func (l *limitOperator) Open(ctx *Context) error {
	l.skipped = 0
	l.emitted = 0
	return l.input.Open(ctx)
}

func (l *limitOperator) Next() (*common.Tuple, bool, error) {
	for l.skipped < l.offset {
		_, ok, err := l.input.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		l.skipped++
	}
	if l.count >= 0 && l.emitted >= l.count {
		return nil, false, nil
	}
	tuple, ok, err := l.input.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	l.emitted++
	return tuple, true, nil
}

func (l *limitOperator) Close() error {
	return l.input.Close()
}
