package lang

import (
	"fmt"
	"strings"
	"time"

	"github.com/minsql/minsql/common"
)

// The intent layer is the semantic IR between the AST and the planner.
// Statements lower into intents; plans are built from intents only, never
// from raw AST nodes.

// Intent is a lowered, validated statement
type Intent interface {
	intentNode()
}

// ExpressionIntent is a lowered scalar expression
type ExpressionIntent interface {
	fmt.Stringer
	expressionIntent()
}

// ColumnIntent references an unqualified column
type ColumnIntent struct {
	Name string
}

// QualifiedColumnIntent references a table-qualified column
type QualifiedColumnIntent struct {
	Table string
	Name  string
}

// ConstantIntent is a literal value
type ConstantIntent struct {
	Value common.Value
}

// ArithOp enumerates arithmetic operators
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

func (op ArithOp) String() string {
	return [...]string{"+", "-", "*", "/"}[op]
}

// ArithmeticIntent applies an arithmetic operator
type ArithmeticIntent struct {
	Op    ArithOp
	Left  ExpressionIntent
	Right ExpressionIntent
}

// FunctionIntent is a function invocation. Star marks count(*).
type FunctionIntent struct {
	Name string
	Args []ExpressionIntent
	Star bool
}

func (e *ColumnIntent) expressionIntent()          {}
func (e *QualifiedColumnIntent) expressionIntent() {}
func (e *ConstantIntent) expressionIntent()        {}
func (e *ArithmeticIntent) expressionIntent()      {}
func (e *FunctionIntent) expressionIntent()        {}

func (e *ColumnIntent) String() string { return e.Name }

func (e *QualifiedColumnIntent) String() string { return e.Table + "." + e.Name }

func (e *ConstantIntent) String() string { return e.Value.String() }

func (e *ArithmeticIntent) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *FunctionIntent) String() string {
	if e.Star {
		return e.Name + "(*)"
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", "))
}

// CompareOp enumerates filter comparison operators
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (op CompareOp) String() string {
	return [...]string{"=", "!=", "<", "<=", ">", ">="}[op]
}

// LogicalOp enumerates filter combinators
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
	LogicalNot
)

func (op LogicalOp) String() string {
	return [...]string{"and", "or", "not"}[op]
}

// FilterIntent is a lowered boolean predicate. Its String form is the
// selector notation handed to storage adapters.
type FilterIntent interface {
	fmt.Stringer
	filterIntent()
}

// FilterAlways accepts every row
type FilterAlways struct{}

// FilterNever rejects every row
type FilterNever struct{}

// FilterComparison compares two expressions
type FilterComparison struct {
	Op    CompareOp
	Left  ExpressionIntent
	Right ExpressionIntent
}

// FilterLogical combines sub-filters. Not carries exactly one operand;
// and/or carry two.
type FilterLogical struct {
	Op       LogicalOp
	Operands []FilterIntent
}

func (*FilterAlways) filterIntent()     {}
func (*FilterNever) filterIntent()      {}
func (*FilterComparison) filterIntent() {}
func (*FilterLogical) filterIntent()    {}

func (*FilterAlways) String() string { return "true" }

func (*FilterNever) String() string { return "false" }

func (f *FilterComparison) String() string {
	return fmt.Sprintf("(%s %s %s)", f.Left, f.Op, f.Right)
}

func (f *FilterLogical) String() string {
	if f.Op == LogicalNot {
		return fmt.Sprintf("(not %s)", f.Operands[0])
	}
	parts := make([]string, len(f.Operands))
	for i, op := range f.Operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, " "+f.Op.String()+" ") + ")"
}

// Projection is one output column of a retrieval
type Projection struct {
	Expr  ExpressionIntent
	Alias string
}

// Name returns the output column name
func (p Projection) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Expr.String()
}

// AggregateIntent is one aggregate invocation found in the projection list
type AggregateIntent struct {
	Func  string
	Arg   ExpressionIntent // nil for count(*)
	Star  bool
	Alias string
}

// Name returns the output column name of the aggregate
func (a AggregateIntent) Name() string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Star {
		return a.Func + "(*)"
	}
	return fmt.Sprintf("%s(%s)", a.Func, a.Arg)
}

// JoinIntent is one lowered join
type JoinIntent struct {
	Kind      JoinKind
	Table     string
	Alias     string
	Condition FilterIntent
}

// OrderIntent is one lowered order-by key
type OrderIntent struct {
	Expr  ExpressionIntent
	Order SortOrder
}

// RetrieveIntent is a lowered query
type RetrieveIntent struct {
	Table      string
	Alias      string
	Joins      []JoinIntent
	Star       bool
	Columns    []Projection
	Aggregates []AggregateIntent
	Filter     FilterIntent
	GroupBy    []ExpressionIntent
	OrderBy    []OrderIntent
	Limit      *int64
	Offset     int64
	Travel     *TimeTravel
}

// MutateKind discriminates mutation intents
type MutateKind int

const (
	MutateInsert MutateKind = iota
	MutateUpdate
	MutateDelete
)

// AssignmentIntent is one lowered set clause
type AssignmentIntent struct {
	Column string
	Value  ExpressionIntent
}

// MutateIntent is a lowered insert, update, or delete
type MutateIntent struct {
	Kind        MutateKind
	Table       string
	Columns     []string         // insert column order
	Rows        [][]common.Value // insert literal rows
	Assignments []AssignmentIntent
	Filter      FilterIntent
}

// SchemaKind discriminates schema intents
type SchemaKind int

const (
	SchemaCreateTable SchemaKind = iota
	SchemaCreateIndex
	SchemaDropTable
)

// SchemaIntent is a lowered DDL statement. Columns is set for create
// table; Index and IndexColumns for create index.
type SchemaIntent struct {
	Kind         SchemaKind
	Table        string
	Columns      []ColumnDef
	Index        string
	IndexColumns []string
}

// TxnKind discriminates transaction intents
type TxnKind int

const (
	TxnBegin TxnKind = iota
	TxnCommit
	TxnRollback
)

// TransactionIntent is a lowered transaction control statement
type TransactionIntent struct {
	Kind          TxnKind
	Deterministic bool
	At            *time.Time
}

func (*RetrieveIntent) intentNode()    {}
func (*MutateIntent) intentNode()      {}
func (*SchemaIntent) intentNode()      {}
func (*TransactionIntent) intentNode() {}
