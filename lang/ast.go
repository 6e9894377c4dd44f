package lang

import (
	"time"

	"github.com/minsql/minsql/common"
)

// BinaryOp enumerates binary expression operators
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
)

var binaryOpNames = map[BinaryOp]string{
	OpEq: "=", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpAnd: "and", OpOr: "or",
}

// String renders the operator in source syntax
func (op BinaryOp) String() string { return binaryOpNames[op] }

// IsComparison reports whether the operator yields a boolean from operands
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// UnaryOp enumerates unary expression operators
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// Expr is an expression AST node
type Expr interface {
	exprNode()
}

// LiteralExpr is a constant literal
type LiteralExpr struct {
	Value common.Value
}

// ColumnExpr references a column, optionally table-qualified
type ColumnExpr struct {
	Table string // empty when unqualified
	Name  string
}

// BinaryExpr applies a binary operator
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// UnaryExpr applies a unary operator
type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

// FunctionExpr is a function invocation. Star marks count(*).
type FunctionExpr struct {
	Name string
	Args []Expr
	Star bool
}

func (*LiteralExpr) exprNode()  {}
func (*ColumnExpr) exprNode()   {}
func (*BinaryExpr) exprNode()   {}
func (*UnaryExpr) exprNode()    {}
func (*FunctionExpr) exprNode() {}

// SelectItem is one projection entry. Star marks a bare '*'.
type SelectItem struct {
	Star  bool
	Expr  Expr
	Alias string
}

// TableRef names a source table with an optional alias
type TableRef struct {
	Name  string
	Alias string
}

// JoinKind enumerates join types
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeftOuter
)

// JoinClause is one join in a select statement
type JoinClause struct {
	Kind      JoinKind
	Table     TableRef
	Condition Expr
}

// SortOrder gives the direction of one order-by key
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// OrderKey is one order-by entry
type OrderKey struct {
	Expr  Expr
	Order SortOrder
}

// TimeTravel bounds a historical read
type TimeTravel struct {
	At    time.Time
	Until *time.Time
}

// Statement is a parsed top-level statement
type Statement interface {
	stmtNode()
}

// SelectStatement covers retrieve/select queries
type SelectStatement struct {
	Items   []SelectItem
	From    TableRef
	Joins   []JoinClause
	Where   Expr
	GroupBy []Expr
	OrderBy []OrderKey
	Limit   *int64
	Offset  int64
	Travel  *TimeTravel
}

// InsertStatement inserts literal rows
type InsertStatement struct {
	Table   string
	Columns []string // empty means table order
	Rows    [][]Expr
}

// UpdateStatement updates rows matching Where
type UpdateStatement struct {
	Table       string
	Assignments []Assignment
	Where       Expr
}

// Assignment is one set clause of an update
type Assignment struct {
	Column string
	Value  Expr
}

// DeleteStatement deletes rows matching Where
type DeleteStatement struct {
	Table string
	Where Expr
}

// ColumnDef declares one column of a new table
type ColumnDef struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// CreateTableStatement creates a table
type CreateTableStatement struct {
	Table   string
	Columns []ColumnDef
}

// CreateIndexStatement creates a secondary index over table columns
type CreateIndexStatement struct {
	Name    string
	Table   string
	Columns []string
}

// DropTableStatement removes a table and its rows
type DropTableStatement struct {
	Table string
}

// BeginStatement starts a transaction. At pins the snapshot for
// deterministic or historical transactions.
type BeginStatement struct {
	Deterministic bool
	At            *time.Time
}

// CommitStatement commits the session transaction
type CommitStatement struct{}

// RollbackStatement aborts the session transaction
type RollbackStatement struct{}

func (*SelectStatement) stmtNode()      {}
func (*InsertStatement) stmtNode()      {}
func (*UpdateStatement) stmtNode()      {}
func (*DeleteStatement) stmtNode()      {}
func (*CreateTableStatement) stmtNode() {}
func (*CreateIndexStatement) stmtNode() {}
func (*DropTableStatement) stmtNode()   {}
func (*BeginStatement) stmtNode()       {}
func (*CommitStatement) stmtNode()      {}
func (*RollbackStatement) stmtNode()    {}
