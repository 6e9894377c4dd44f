package planner

import (
	"sort"
	"strings"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

// Optimize rewrites a logical plan through the rule pipeline: constant
// folding, predicate pushdown, projection pushdown. Each rule is
// idempotent and the pipeline runs in one ordered pass, so optimizing an
// already-optimized plan returns it unchanged.
func Optimize(plan LogicalPlan) LogicalPlan {
	plan = foldConstants(plan)
	plan = pushPredicates(plan)
	plan = pushProjections(plan, nil, false)
	return plan
}

// Constant folding

func foldConstants(plan LogicalPlan) LogicalPlan {
	switch p := plan.(type) {
	case *LogicalScan:
		return p
	case *LogicalFilter:
		input := foldConstants(p.Input)
		pred := FoldFilter(p.Predicate)
		switch pred.(type) {
		case *lang.FilterAlways:
			return input
		}
		return &LogicalFilter{Input: input, Predicate: pred}
	case *LogicalJoin:
		return &LogicalJoin{
			Kind:      p.Kind,
			Left:      foldConstants(p.Left),
			Right:     foldConstants(p.Right),
			Condition: FoldFilter(p.Condition),
		}
	case *LogicalProject:
		cols := make([]lang.Projection, len(p.Columns))
		for i, c := range p.Columns {
			cols[i] = lang.Projection{Expr: FoldExpression(c.Expr), Alias: c.Alias}
		}
		return &LogicalProject{Input: foldConstants(p.Input), Star: p.Star, Columns: cols}
	case *LogicalAggregate:
		return &LogicalAggregate{
			Input:      foldConstants(p.Input),
			GroupBy:    p.GroupBy,
			Aggregates: p.Aggregates,
		}
	case *LogicalSort:
		return &LogicalSort{Input: foldConstants(p.Input), Keys: p.Keys}
	case *LogicalLimit:
		return &LogicalLimit{Input: foldConstants(p.Input), Count: p.Count, Offset: p.Offset}
	}
	return plan
}

// FoldExpression evaluates constant arithmetic at plan time. Division by
// zero is left unfolded so it surfaces as a runtime error in the usual
// error channel.
func FoldExpression(expr lang.ExpressionIntent) lang.ExpressionIntent {
	arith, ok := expr.(*lang.ArithmeticIntent)
	if !ok {
		return expr
	}
	left := FoldExpression(arith.Left)
	right := FoldExpression(arith.Right)

	lc, lok := left.(*lang.ConstantIntent)
	rc, rok := right.(*lang.ConstantIntent)
	if lok && rok {
		if v, ok := foldArith(arith.Op, lc.Value, rc.Value); ok {
			return &lang.ConstantIntent{Value: v}
		}
	}
	return &lang.ArithmeticIntent{Op: arith.Op, Left: left, Right: right}
}

func foldArith(op lang.ArithOp, l, r common.Value) (common.Value, bool) {
	if l.Kind == common.KindInt && r.Kind == common.KindInt {
		switch op {
		case lang.ArithAdd:
			return common.Int(l.I + r.I), true
		case lang.ArithSub:
			return common.Int(l.I - r.I), true
		case lang.ArithMul:
			return common.Int(l.I * r.I), true
		case lang.ArithDiv:
			if r.I == 0 {
				return common.Value{}, false
			}
			return common.Int(l.I / r.I), true
		}
	}
	if l.Kind == common.KindString && r.Kind == common.KindString && op == lang.ArithAdd {
		return common.String(l.S + r.S), true
	}
	lf, lok := l.AsFloat()
	rf, rok := r.AsFloat()
	if !lok || !rok {
		return common.Value{}, false
	}
	switch op {
	case lang.ArithAdd:
		return common.Float(lf + rf), true
	case lang.ArithSub:
		return common.Float(lf - rf), true
	case lang.ArithMul:
		return common.Float(lf * rf), true
	case lang.ArithDiv:
		if rf == 0 {
			return common.Value{}, false
		}
		return common.Float(lf / rf), true
	}
	return common.Value{}, false
}

// FoldFilter simplifies a predicate: constant comparisons collapse to
// always/never, and logical operators absorb constant operands.
func FoldFilter(filter lang.FilterIntent) lang.FilterIntent {
	switch f := filter.(type) {
	case *lang.FilterComparison:
		left := FoldExpression(f.Left)
		right := FoldExpression(f.Right)
		lc, lok := left.(*lang.ConstantIntent)
		rc, rok := right.(*lang.ConstantIntent)
		if lok && rok {
			if result, ok := evalConstComparison(f.Op, lc.Value, rc.Value); ok {
				if result {
					return &lang.FilterAlways{}
				}
				return &lang.FilterNever{}
			}
		}
		return &lang.FilterComparison{Op: f.Op, Left: left, Right: right}
	case *lang.FilterLogical:
		operands := make([]lang.FilterIntent, len(f.Operands))
		for i, op := range f.Operands {
			operands[i] = FoldFilter(op)
		}
		return simplifyLogical(f.Op, operands)
	}
	return filter
}

func evalConstComparison(op lang.CompareOp, l, r common.Value) (bool, bool) {
	if l.IsNull() || r.IsNull() {
		// Comparisons against null never match
		return false, true
	}
	if l.Kind != r.Kind {
		// Mixed-kind comparisons stay unfolded so the runtime reports
		// the type mismatch
		return false, false
	}
	switch op {
	case lang.CmpEq:
		return l.Equal(r), true
	case lang.CmpNe:
		return !l.Equal(r), true
	}
	c, ok := l.Compare(r)
	if !ok {
		return false, false
	}
	switch op {
	case lang.CmpLt:
		return c < 0, true
	case lang.CmpLe:
		return c <= 0, true
	case lang.CmpGt:
		return c > 0, true
	case lang.CmpGe:
		return c >= 0, true
	}
	return false, false
}

func simplifyLogical(op lang.LogicalOp, operands []lang.FilterIntent) lang.FilterIntent {
	switch op {
	case lang.LogicalNot:
		switch operands[0].(type) {
		case *lang.FilterAlways:
			return &lang.FilterNever{}
		case *lang.FilterNever:
			return &lang.FilterAlways{}
		}
		return &lang.FilterLogical{Op: op, Operands: operands}
	case lang.LogicalAnd:
		var kept []lang.FilterIntent
		for _, o := range operands {
			switch o.(type) {
			case *lang.FilterAlways:
				continue
			case *lang.FilterNever:
				return &lang.FilterNever{}
			}
			kept = append(kept, o)
		}
		return combineConjuncts(kept)
	case lang.LogicalOr:
		var kept []lang.FilterIntent
		for _, o := range operands {
			switch o.(type) {
			case *lang.FilterNever:
				continue
			case *lang.FilterAlways:
				return &lang.FilterAlways{}
			}
			kept = append(kept, o)
		}
		switch len(kept) {
		case 0:
			return &lang.FilterNever{}
		case 1:
			return kept[0]
		}
		return &lang.FilterLogical{Op: lang.LogicalOr, Operands: kept}
	}
	return &lang.FilterLogical{Op: op, Operands: operands}
}

// Predicate pushdown

// pushPredicates moves filter conjuncts that reference only one join side
// below the join. Mixed conjuncts and conjuncts whose columns cannot be
// attributed to a side stay put. The nullable side of a left outer join
// never receives pushed predicates, since rows it rejects must still appear
// null-extended.
func pushPredicates(plan LogicalPlan) LogicalPlan {
	switch p := plan.(type) {
	case *LogicalScan:
		return p
	case *LogicalFilter:
		input := pushPredicates(p.Input)
		if join, ok := input.(*LogicalJoin); ok {
			return pushFilterIntoJoin(p.Predicate, join)
		}
		// Merge adjacent filters into one conjunction
		if inner, ok := input.(*LogicalFilter); ok {
			merged := combineConjuncts(append(splitConjuncts(p.Predicate), splitConjuncts(inner.Predicate)...))
			return &LogicalFilter{Input: inner.Input, Predicate: merged}
		}
		return &LogicalFilter{Input: input, Predicate: p.Predicate}
	case *LogicalJoin:
		return &LogicalJoin{
			Kind:      p.Kind,
			Left:      pushPredicates(p.Left),
			Right:     pushPredicates(p.Right),
			Condition: p.Condition,
		}
	case *LogicalProject:
		return &LogicalProject{Input: pushPredicates(p.Input), Star: p.Star, Columns: p.Columns}
	case *LogicalAggregate:
		return &LogicalAggregate{Input: pushPredicates(p.Input), GroupBy: p.GroupBy, Aggregates: p.Aggregates}
	case *LogicalSort:
		return &LogicalSort{Input: pushPredicates(p.Input), Keys: p.Keys}
	case *LogicalLimit:
		return &LogicalLimit{Input: pushPredicates(p.Input), Count: p.Count, Offset: p.Offset}
	}
	return plan
}

func pushFilterIntoJoin(predicate lang.FilterIntent, join *LogicalJoin) LogicalPlan {
	leftTables := planTables(join.Left)
	rightTables := planTables(join.Right)

	var leftPush, rightPush, remain []lang.FilterIntent
	for _, conj := range splitConjuncts(predicate) {
		tables, attributable := filterTables(conj)
		switch {
		case attributable && subset(tables, leftTables):
			leftPush = append(leftPush, conj)
		case attributable && subset(tables, rightTables) && join.Kind == lang.JoinInner:
			rightPush = append(rightPush, conj)
		default:
			remain = append(remain, conj)
		}
	}

	left := join.Left
	if len(leftPush) > 0 {
		left = addFilter(left, combineConjuncts(leftPush))
	}
	right := join.Right
	if len(rightPush) > 0 {
		right = addFilter(right, combineConjuncts(rightPush))
	}

	var out LogicalPlan = &LogicalJoin{Kind: join.Kind, Left: left, Right: right, Condition: join.Condition}
	if len(remain) > 0 {
		out = &LogicalFilter{Input: out, Predicate: combineConjuncts(remain)}
	}
	return out
}

func addFilter(plan LogicalPlan, predicate lang.FilterIntent) LogicalPlan {
	if f, ok := plan.(*LogicalFilter); ok {
		merged := combineConjuncts(append(splitConjuncts(f.Predicate), splitConjuncts(predicate)...))
		return &LogicalFilter{Input: f.Input, Predicate: merged}
	}
	return &LogicalFilter{Input: plan, Predicate: predicate}
}

// splitConjuncts flattens nested and-filters into a conjunct list
func splitConjuncts(filter lang.FilterIntent) []lang.FilterIntent {
	if logical, ok := filter.(*lang.FilterLogical); ok && logical.Op == lang.LogicalAnd {
		var out []lang.FilterIntent
		for _, op := range logical.Operands {
			out = append(out, splitConjuncts(op)...)
		}
		return out
	}
	return []lang.FilterIntent{filter}
}

func combineConjuncts(conjuncts []lang.FilterIntent) lang.FilterIntent {
	switch len(conjuncts) {
	case 0:
		return &lang.FilterAlways{}
	case 1:
		return conjuncts[0]
	}
	return &lang.FilterLogical{Op: lang.LogicalAnd, Operands: conjuncts}
}

// planTables collects the table bindings a subtree produces
func planTables(plan LogicalPlan) map[string]bool {
	out := make(map[string]bool)
	var walk func(LogicalPlan)
	walk = func(p LogicalPlan) {
		switch n := p.(type) {
		case *LogicalScan:
			if n.Alias != "" {
				out[n.Alias] = true
			} else {
				out[n.Table] = true
			}
		case *LogicalFilter:
			walk(n.Input)
		case *LogicalJoin:
			walk(n.Left)
			walk(n.Right)
		case *LogicalProject:
			walk(n.Input)
		case *LogicalAggregate:
			walk(n.Input)
		case *LogicalSort:
			walk(n.Input)
		case *LogicalLimit:
			walk(n.Input)
		}
	}
	walk(plan)
	return out
}

// filterTables collects the tables a predicate references. The second
// return is false when any column is unqualified, which makes side
// attribution unsafe.
func filterTables(filter lang.FilterIntent) (map[string]bool, bool) {
	tables := make(map[string]bool)
	ok := true

	var walkExpr func(lang.ExpressionIntent)
	walkExpr = func(e lang.ExpressionIntent) {
		switch n := e.(type) {
		case *lang.ColumnIntent:
			ok = false
		case *lang.QualifiedColumnIntent:
			tables[n.Table] = true
		case *lang.ArithmeticIntent:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *lang.FunctionIntent:
			for _, arg := range n.Args {
				walkExpr(arg)
			}
		}
	}

	var walkFilter func(lang.FilterIntent)
	walkFilter = func(f lang.FilterIntent) {
		switch n := f.(type) {
		case *lang.FilterComparison:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *lang.FilterLogical:
			for _, op := range n.Operands {
				walkFilter(op)
			}
		}
	}

	walkFilter(filter)
	return tables, ok
}

func subset(a, b map[string]bool) bool {
	if len(a) == 0 {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Projection pushdown

// pushProjections prunes scan columns to those referenced above. need is
// the running required set; all is true once any star projection or other
// full-width consumer is seen.
func pushProjections(plan LogicalPlan, need map[string]bool, all bool) LogicalPlan {
	switch p := plan.(type) {
	case *LogicalScan:
		if all || need == nil {
			return &LogicalScan{Table: p.Table, Alias: p.Alias, Travel: p.Travel}
		}
		return &LogicalScan{Table: p.Table, Alias: p.Alias, Travel: p.Travel, Columns: scanColumns(p, need)}
	case *LogicalFilter:
		merged := union(need, filterColumns(p.Predicate))
		return &LogicalFilter{Input: pushProjections(p.Input, merged, all), Predicate: p.Predicate}
	case *LogicalJoin:
		merged := union(need, filterColumns(p.Condition))
		return &LogicalJoin{
			Kind:      p.Kind,
			Left:      pushProjections(p.Left, merged, all),
			Right:     pushProjections(p.Right, merged, all),
			Condition: p.Condition,
		}
	case *LogicalProject:
		if p.Star {
			return &LogicalProject{Input: pushProjections(p.Input, nil, true), Star: true, Columns: p.Columns}
		}
		need := make(map[string]bool)
		for _, c := range p.Columns {
			for col := range exprColumns(c.Expr) {
				need[col] = true
			}
		}
		return &LogicalProject{Input: pushProjections(p.Input, need, false), Columns: p.Columns}
	case *LogicalAggregate:
		need := make(map[string]bool)
		for _, g := range p.GroupBy {
			for col := range exprColumns(g) {
				need[col] = true
			}
		}
		for _, a := range p.Aggregates {
			if a.Arg != nil {
				for col := range exprColumns(a.Arg) {
					need[col] = true
				}
			}
			if a.Star {
				// count(*) touches whole rows
				return &LogicalAggregate{
					Input:      pushProjections(p.Input, nil, true),
					GroupBy:    p.GroupBy,
					Aggregates: p.Aggregates,
				}
			}
		}
		return &LogicalAggregate{
			Input:      pushProjections(p.Input, need, false),
			GroupBy:    p.GroupBy,
			Aggregates: p.Aggregates,
		}
	case *LogicalSort:
		merged := need
		for _, k := range p.Keys {
			merged = union(merged, exprColumns(k.Expr))
		}
		return &LogicalSort{Input: pushProjections(p.Input, merged, all), Keys: p.Keys}
	case *LogicalLimit:
		return &LogicalLimit{Input: pushProjections(p.Input, need, all), Count: p.Count, Offset: p.Offset}
	}
	return plan
}

// scanColumns returns the sorted subset of needed columns that bind to
// this scan. Unqualified columns stay, since they may live in any table.
func scanColumns(scan *LogicalScan, need map[string]bool) []string {
	binding := scan.Alias
	if binding == "" {
		binding = scan.Table
	}
	var cols []string
	for col := range need {
		if idx := strings.IndexByte(col, '.'); idx >= 0 {
			if col[:idx] == binding {
				cols = append(cols, col)
			}
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func filterColumns(filter lang.FilterIntent) map[string]bool {
	out := make(map[string]bool)
	var walkFilter func(lang.FilterIntent)
	walkFilter = func(f lang.FilterIntent) {
		switch n := f.(type) {
		case *lang.FilterComparison:
			for col := range exprColumns(n.Left) {
				out[col] = true
			}
			for col := range exprColumns(n.Right) {
				out[col] = true
			}
		case *lang.FilterLogical:
			for _, op := range n.Operands {
				walkFilter(op)
			}
		}
	}
	walkFilter(filter)
	return out
}

func exprColumns(expr lang.ExpressionIntent) map[string]bool {
	out := make(map[string]bool)
	var walk func(lang.ExpressionIntent)
	walk = func(e lang.ExpressionIntent) {
		switch n := e.(type) {
		case *lang.ColumnIntent:
			out[n.Name] = true
		case *lang.QualifiedColumnIntent:
			out[n.Table+"."+n.Name] = true
		case *lang.ArithmeticIntent:
			walk(n.Left)
			walk(n.Right)
		case *lang.FunctionIntent:
			for _, arg := range n.Args {
				walk(arg)
			}
		}
	}
	walk(expr)
	return out
}

func union(a, b map[string]bool) map[string]bool {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
