package lang

import (
	"fmt"

	"github.com/minsql/minsql/common"
)

// Aggregate function names recognized by the analyzer
var aggregateFuncs = map[string]bool{
	"count": true,
	"sum":   true,
	"avg":   true,
	"min":   true,
	"max":   true,
}

// IsAggregateFunc reports whether name is an aggregate function
func IsAggregateFunc(name string) bool {
	return aggregateFuncs[name]
}

// Analyze lowers a parsed statement into its intent, validating semantic
// rules the grammar cannot express.
func Analyze(stmt Statement) (Intent, error) {
	switch s := stmt.(type) {
	case *SelectStatement:
		return analyzeSelect(s)
	case *InsertStatement:
		return analyzeInsert(s)
	case *UpdateStatement:
		return analyzeUpdate(s)
	case *DeleteStatement:
		return analyzeDelete(s)
	case *CreateTableStatement:
		return analyzeCreateTable(s)
	case *CreateIndexStatement:
		return analyzeCreateIndex(s)
	case *DropTableStatement:
		return &SchemaIntent{Kind: SchemaDropTable, Table: s.Table}, nil
	case *BeginStatement:
		return &TransactionIntent{Kind: TxnBegin, Deterministic: s.Deterministic, At: s.At}, nil
	case *CommitStatement:
		return &TransactionIntent{Kind: TxnCommit}, nil
	case *RollbackStatement:
		return &TransactionIntent{Kind: TxnRollback}, nil
	}
	return nil, &SemanticError{Message: fmt.Sprintf("unsupported statement type %T", stmt)}
}

func analyzeSelect(stmt *SelectStatement) (*RetrieveIntent, error) {
	intent := &RetrieveIntent{
		Table:  stmt.From.Name,
		Alias:  stmt.From.Alias,
		Limit:  stmt.Limit,
		Offset: stmt.Offset,
		Travel: stmt.Travel,
		Filter: &FilterAlways{},
	}

	for _, join := range stmt.Joins {
		cond, err := AnalyzeFilter(join.Condition)
		if err != nil {
			return nil, err
		}
		intent.Joins = append(intent.Joins, JoinIntent{
			Kind:      join.Kind,
			Table:     join.Table.Name,
			Alias:     join.Table.Alias,
			Condition: cond,
		})
	}

	for _, item := range stmt.Items {
		if item.Star {
			if len(stmt.Items) != 1 {
				return nil, &SemanticError{Message: "'*' cannot be combined with other projections"}
			}
			intent.Star = true
			break
		}
		if fn, ok := item.Expr.(*FunctionExpr); ok && IsAggregateFunc(fn.Name) {
			agg, err := analyzeAggregate(fn, item.Alias)
			if err != nil {
				return nil, err
			}
			intent.Aggregates = append(intent.Aggregates, agg)
			continue
		}
		expr, err := AnalyzeExpression(item.Expr)
		if err != nil {
			return nil, err
		}
		intent.Columns = append(intent.Columns, Projection{Expr: expr, Alias: item.Alias})
	}

	if stmt.Where != nil {
		filter, err := AnalyzeFilter(stmt.Where)
		if err != nil {
			return nil, err
		}
		intent.Filter = filter
	}

	for _, g := range stmt.GroupBy {
		expr, err := AnalyzeExpression(g)
		if err != nil {
			return nil, err
		}
		intent.GroupBy = append(intent.GroupBy, expr)
	}

	for _, key := range stmt.OrderBy {
		expr, err := AnalyzeExpression(key.Expr)
		if err != nil {
			return nil, err
		}
		intent.OrderBy = append(intent.OrderBy, OrderIntent{Expr: expr, Order: key.Order})
	}

	return intent, nil
}

func analyzeAggregate(fn *FunctionExpr, alias string) (AggregateIntent, error) {
	agg := AggregateIntent{Func: fn.Name, Alias: alias}
	if fn.Star {
		if fn.Name != "count" {
			return agg, &SemanticError{Message: fmt.Sprintf("%s(*) is not valid, only count(*)", fn.Name)}
		}
		agg.Star = true
		return agg, nil
	}
	if len(fn.Args) != 1 {
		return agg, &SemanticError{Message: fmt.Sprintf("%s takes exactly one argument", fn.Name)}
	}
	if inner, ok := fn.Args[0].(*FunctionExpr); ok && IsAggregateFunc(inner.Name) {
		return agg, &SemanticError{Message: "aggregates cannot be nested"}
	}
	arg, err := AnalyzeExpression(fn.Args[0])
	if err != nil {
		return agg, err
	}
	agg.Arg = arg
	return agg, nil
}

// AnalyzeExpression lowers a scalar expression. Boolean operators are not
// valid in scalar position.
func AnalyzeExpression(expr Expr) (ExpressionIntent, error) {
	switch e := expr.(type) {
	case *LiteralExpr:
		return &ConstantIntent{Value: e.Value}, nil
	case *ColumnExpr:
		if e.Table != "" {
			return &QualifiedColumnIntent{Table: e.Table, Name: e.Name}, nil
		}
		return &ColumnIntent{Name: e.Name}, nil
	case *BinaryExpr:
		var op ArithOp
		switch e.Op {
		case OpAdd:
			op = ArithAdd
		case OpSub:
			op = ArithSub
		case OpMul:
			op = ArithMul
		case OpDiv:
			op = ArithDiv
		default:
			return nil, &SemanticError{Message: fmt.Sprintf("operator %s is not valid in scalar context", e.Op)}
		}
		left, err := AnalyzeExpression(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := AnalyzeExpression(e.Right)
		if err != nil {
			return nil, err
		}
		return &ArithmeticIntent{Op: op, Left: left, Right: right}, nil
	case *UnaryExpr:
		if e.Op == OpNot {
			return nil, &SemanticError{Message: "'not' is not valid in scalar context"}
		}
		operand, err := AnalyzeExpression(e.Operand)
		if err != nil {
			return nil, err
		}
		// Fold negated literals, otherwise lower as 0 - x
		if c, ok := operand.(*ConstantIntent); ok {
			if folded, ok := negateValue(c.Value); ok {
				return &ConstantIntent{Value: folded}, nil
			}
			return nil, &SemanticError{Message: fmt.Sprintf("cannot negate %s", c.Value.TypeName())}
		}
		return &ArithmeticIntent{
			Op:    ArithSub,
			Left:  &ConstantIntent{Value: common.Int(0)},
			Right: operand,
		}, nil
	case *FunctionExpr:
		if IsAggregateFunc(e.Name) {
			return nil, &SemanticError{Message: fmt.Sprintf("aggregate %s is not valid here", e.Name)}
		}
		fn := &FunctionIntent{Name: e.Name, Star: e.Star}
		for _, arg := range e.Args {
			lowered, err := AnalyzeExpression(arg)
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, lowered)
		}
		return fn, nil
	}
	return nil, &SemanticError{Message: fmt.Sprintf("unsupported expression type %T", expr)}
}

// AnalyzeFilter lowers a boolean expression into a filter. Non-boolean
// expressions are rejected, except the literal constants true and false
// which become the always/never filters.
func AnalyzeFilter(expr Expr) (FilterIntent, error) {
	switch e := expr.(type) {
	case *LiteralExpr:
		switch {
		case e.Value.Kind == common.KindBool && e.Value.B:
			return &FilterAlways{}, nil
		case e.Value.Kind == common.KindBool:
			return &FilterNever{}, nil
		}
		return nil, &SemanticError{Message: fmt.Sprintf("filter must be boolean, found %s", e.Value.TypeName())}
	case *BinaryExpr:
		if e.Op.IsComparison() {
			left, err := AnalyzeExpression(e.Left)
			if err != nil {
				return nil, err
			}
			right, err := AnalyzeExpression(e.Right)
			if err != nil {
				return nil, err
			}
			return &FilterComparison{Op: compareOpOf(e.Op), Left: left, Right: right}, nil
		}
		if e.Op == OpAnd || e.Op == OpOr {
			left, err := AnalyzeFilter(e.Left)
			if err != nil {
				return nil, err
			}
			right, err := AnalyzeFilter(e.Right)
			if err != nil {
				return nil, err
			}
			op := LogicalAnd
			if e.Op == OpOr {
				op = LogicalOr
			}
			return &FilterLogical{Op: op, Operands: []FilterIntent{left, right}}, nil
		}
		return nil, &SemanticError{Message: fmt.Sprintf("operator %s is not a filter", e.Op)}
	case *UnaryExpr:
		if e.Op == OpNot {
			inner, err := AnalyzeFilter(e.Operand)
			if err != nil {
				return nil, err
			}
			return &FilterLogical{Op: LogicalNot, Operands: []FilterIntent{inner}}, nil
		}
		return nil, &SemanticError{Message: "negation is not a filter"}
	}
	return nil, &SemanticError{Message: fmt.Sprintf("expression %T is not a filter", expr)}
}

func compareOpOf(op BinaryOp) CompareOp {
	switch op {
	case OpEq:
		return CmpEq
	case OpNe:
		return CmpNe
	case OpLt:
		return CmpLt
	case OpLe:
		return CmpLe
	case OpGt:
		return CmpGt
	}
	return CmpGe
}

func negateValue(v common.Value) (common.Value, bool) {
	switch v.Kind {
	case common.KindInt:
		return common.Int(-v.I), true
	case common.KindFloat:
		return common.Float(-v.F), true
	}
	return common.Value{}, false
}

func analyzeInsert(stmt *InsertStatement) (*MutateIntent, error) {
	intent := &MutateIntent{
		Kind:    MutateInsert,
		Table:   stmt.Table,
		Columns: stmt.Columns,
		Filter:  &FilterAlways{},
	}
	for _, row := range stmt.Rows {
		values := make([]common.Value, len(row))
		for i, expr := range row {
			v, err := literalValue(expr)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		intent.Rows = append(intent.Rows, values)
	}
	return intent, nil
}

// literalValue extracts a constant from an insert value expression. Only
// literals and negated numeric literals are allowed.
func literalValue(expr Expr) (common.Value, error) {
	switch e := expr.(type) {
	case *LiteralExpr:
		return e.Value, nil
	case *UnaryExpr:
		if e.Op == OpNeg {
			if lit, ok := e.Operand.(*LiteralExpr); ok {
				if v, ok := negateValue(lit.Value); ok {
					return v, nil
				}
			}
		}
	}
	return common.Value{}, &SemanticError{Message: "insert values must be literals"}
}

func analyzeUpdate(stmt *UpdateStatement) (*MutateIntent, error) {
	intent := &MutateIntent{
		Kind:   MutateUpdate,
		Table:  stmt.Table,
		Filter: &FilterAlways{},
	}
	for _, a := range stmt.Assignments {
		expr, err := AnalyzeExpression(a.Value)
		if err != nil {
			return nil, err
		}
		intent.Assignments = append(intent.Assignments, AssignmentIntent{Column: a.Column, Value: expr})
	}
	if stmt.Where != nil {
		filter, err := AnalyzeFilter(stmt.Where)
		if err != nil {
			return nil, err
		}
		intent.Filter = filter
	}
	return intent, nil
}

func analyzeDelete(stmt *DeleteStatement) (*MutateIntent, error) {
	intent := &MutateIntent{
		Kind:   MutateDelete,
		Table:  stmt.Table,
		Filter: &FilterAlways{},
	}
	if stmt.Where != nil {
		filter, err := AnalyzeFilter(stmt.Where)
		if err != nil {
			return nil, err
		}
		intent.Filter = filter
	}
	return intent, nil
}

// columnTypes maps accepted type spellings to their canonical names
var columnTypes = map[string]string{
	"bool":      "bool",
	"boolean":   "bool",
	"int":       "int",
	"integer":   "int",
	"bigint":    "bigint",
	"real":      "float",
	"float":     "float",
	"double":    "double",
	"text":      "text",
	"string":    "text",
	"varchar":   "text",
	"timestamp": "timestamp",
	"datetime":  "timestamp",
}

func analyzeCreateTable(stmt *CreateTableStatement) (*SchemaIntent, error) {
	seen := make(map[string]bool, len(stmt.Columns))
	cols := make([]ColumnDef, 0, len(stmt.Columns))
	for _, col := range stmt.Columns {
		if seen[col.Name] {
			return nil, &SemanticError{Message: fmt.Sprintf("duplicate column %q", col.Name)}
		}
		seen[col.Name] = true
		canonical, ok := columnTypes[col.Type]
		if !ok {
			return nil, &SemanticError{Message: fmt.Sprintf("unknown column type %q", col.Type)}
		}
		col.Type = canonical
		cols = append(cols, col)
	}
	return &SchemaIntent{Kind: SchemaCreateTable, Table: stmt.Table, Columns: cols}, nil
}

func analyzeCreateIndex(stmt *CreateIndexStatement) (*SchemaIntent, error) {
	if len(stmt.Columns) == 0 {
		return nil, &SemanticError{Message: "index needs at least one column"}
	}
	seen := make(map[string]bool, len(stmt.Columns))
	for _, col := range stmt.Columns {
		if seen[col] {
			return nil, &SemanticError{Message: fmt.Sprintf("duplicate index column %q", col)}
		}
		seen[col] = true
	}
	return &SchemaIntent{
		Kind:         SchemaCreateIndex,
		Table:        stmt.Table,
		Index:        stmt.Name,
		IndexColumns: stmt.Columns,
	}, nil
}
