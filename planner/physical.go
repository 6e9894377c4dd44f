package planner

import (
	"fmt"

	"github.com/minsql/minsql/lang"
)

// Cost model constants. CPU and IO are in abstract work units; memory is
// in abstract buffer units.
const (
	TupleCPUCost    = 0.01
	OperatorCPUCost = 0.0025
	PageIOCost      = 1.0

	// Cardinality assumptions without table statistics
	SeqScanRows   = 1000.0
	IndexScanRows = 100.0

	HashJoinBuildCPU = 10000 * OperatorCPUCost
	HashJoinMemory   = 1000.0
	SortCPU          = 5000 * OperatorCPUCost
	SortMemory       = 1000.0
	AggregateCPU     = 1000 * OperatorCPUCost
	AggregateMemory  = 500.0
	LimitScale       = 0.1

	// Per-row price of moving build-side tuples between shards
	ShardTransferCost = 0.1
)

// Cost is the estimated resource usage of a physical operator subtree
type Cost struct {
	CPU     float64
	IO      float64
	Memory  float64
	Network float64
}

// Total is the comparable scalar used to rank plans
func (c Cost) Total() float64 {
	return c.CPU + c.IO + c.Memory + c.Network
}

// Add sums component-wise
func (c Cost) Add(other Cost) Cost {
	return Cost{
		CPU:     c.CPU + other.CPU,
		IO:      c.IO + other.IO,
		Memory:  c.Memory + other.Memory,
		Network: c.Network + other.Network,
	}
}

// Catalog answers index-existence questions during access path selection
type Catalog interface {
	HasIndex(table, column string) bool
}

// Environment carries the planning context: schema catalog and shard
// locality. Either field may be nil, which disables the paths needing it.
type Environment struct {
	Catalog  Catalog
	Locality *Locality
}

// PhysicalPlan is a node of the executable operator tree
type PhysicalPlan interface {
	fmt.Stringer
	Cost() Cost
	// Rows is the estimated output cardinality
	Rows() float64
	physicalNode()
}

// PhysSeqScan reads every row of a table
type PhysSeqScan struct {
	Table     string
	Alias     string
	Columns   []string
	Predicate lang.FilterIntent // nil when unfiltered
	Travel    *lang.TimeTravel
}

// PhysIndexScan reads rows matching an equality predicate through an index
type PhysIndexScan struct {
	Table     string
	Alias     string
	Columns   []string
	Predicate lang.FilterIntent
	Travel    *lang.TimeTravel
}

// PhysFilter drops rows failing the predicate
type PhysFilter struct {
	Input     PhysicalPlan
	Predicate lang.FilterIntent
}

// PhysProject computes the output columns
type PhysProject struct {
	Input   PhysicalPlan
	Star    bool
	Columns []lang.Projection
}

// PhysHashJoin builds a hash table over the right input and probes with
// the left. Only valid for equality conditions.
type PhysHashJoin struct {
	Kind      lang.JoinKind
	Left      PhysicalPlan
	Right     PhysicalPlan
	Condition lang.FilterIntent
	// CrossShard marks joins whose inputs live on different shard sets
	CrossShard bool
}

// PhysNestedLoopJoin evaluates the condition for every pair
type PhysNestedLoopJoin struct {
	Kind       lang.JoinKind
	Left       PhysicalPlan
	Right      PhysicalPlan
	Condition  lang.FilterIntent
	CrossShard bool
}

// PhysHashAggregate groups rows in a hash table keyed by the evaluated
// group-by values
type PhysHashAggregate struct {
	Input      PhysicalPlan
	GroupBy    []lang.ExpressionIntent
	Aggregates []lang.AggregateIntent
}

// PhysSort materializes and orders the input
type PhysSort struct {
	Input PhysicalPlan
	Keys  []lang.OrderIntent
}

// PhysLimit truncates the stream
type PhysLimit struct {
	Input  PhysicalPlan
	Count  int64
	Offset int64
}

func (*PhysSeqScan) physicalNode()        {}
func (*PhysIndexScan) physicalNode()      {}
func (*PhysFilter) physicalNode()         {}
func (*PhysProject) physicalNode()        {}
func (*PhysHashJoin) physicalNode()       {}
func (*PhysNestedLoopJoin) physicalNode() {}
func (*PhysHashAggregate) physicalNode()  {}
func (*PhysSort) physicalNode()           {}
func (*PhysLimit) physicalNode()          {}

func (p *PhysSeqScan) Rows() float64   { return SeqScanRows }
func (p *PhysIndexScan) Rows() float64 { return IndexScanRows }
func (p *PhysFilter) Rows() float64    { return p.Input.Rows() }
func (p *PhysProject) Rows() float64   { return p.Input.Rows() }

func (p *PhysHashJoin) Rows() float64 {
	if l, r := p.Left.Rows(), p.Right.Rows(); l > r {
		return l
	}
	return p.Right.Rows()
}

func (p *PhysNestedLoopJoin) Rows() float64 { return p.Left.Rows() }

func (p *PhysHashAggregate) Rows() float64 {
	if len(p.GroupBy) == 0 {
		return 1
	}
	return p.Input.Rows() / 10
}

func (p *PhysSort) Rows() float64 { return p.Input.Rows() }

func (p *PhysLimit) Rows() float64 {
	rows := p.Input.Rows()
	if float64(p.Count) < rows {
		return float64(p.Count)
	}
	return rows
}

func (p *PhysSeqScan) Cost() Cost {
	return Cost{
		CPU: SeqScanRows * TupleCPUCost,
		IO:  SeqScanRows * PageIOCost / 100,
	}
}

func (p *PhysIndexScan) Cost() Cost {
	return Cost{
		CPU: IndexScanRows * TupleCPUCost,
		IO:  IndexScanRows * PageIOCost / 100,
	}
}

func (p *PhysFilter) Cost() Cost {
	child := p.Input.Cost()
	return child.Add(Cost{CPU: p.Input.Rows() * OperatorCPUCost})
}

func (p *PhysProject) Cost() Cost {
	child := p.Input.Cost()
	return child.Add(Cost{CPU: p.Input.Rows() * OperatorCPUCost})
}

func (p *PhysHashJoin) Cost() Cost {
	cost := p.Left.Cost().Add(p.Right.Cost())
	cost.CPU += (p.Left.Rows() + p.Right.Rows()) * OperatorCPUCost
	cost.CPU += HashJoinBuildCPU
	cost.Memory += HashJoinMemory
	if p.CrossShard {
		cost.Network += p.Right.Rows() * ShardTransferCost
	}
	return cost
}

func (p *PhysNestedLoopJoin) Cost() Cost {
	right := p.Right.Cost()
	outer := p.Left.Rows()
	// The inner side re-runs once per outer row
	scaled := Cost{
		CPU:    right.CPU * outer,
		IO:     right.IO * outer,
		Memory: right.Memory,
	}
	cost := p.Left.Cost().Add(scaled)
	if p.CrossShard {
		cost.Network += p.Right.Rows() * ShardTransferCost
	}
	return cost
}

func (p *PhysHashAggregate) Cost() Cost {
	child := p.Input.Cost()
	return child.Add(Cost{
		CPU:    p.Input.Rows()*OperatorCPUCost + AggregateCPU,
		Memory: AggregateMemory,
	})
}

func (p *PhysSort) Cost() Cost {
	child := p.Input.Cost()
	return child.Add(Cost{
		CPU:    p.Input.Rows()*OperatorCPUCost + SortCPU,
		Memory: SortMemory,
	})
}

func (p *PhysLimit) Cost() Cost {
	child := p.Input.Cost()
	return Cost{
		CPU:     child.CPU * LimitScale,
		IO:      child.IO * LimitScale,
		Memory:  child.Memory,
		Network: child.Network,
	}
}

func (p *PhysSeqScan) String() string   { return fmt.Sprintf("SeqScan(%s)", p.Table) }
func (p *PhysIndexScan) String() string { return fmt.Sprintf("IndexScan(%s)", p.Table) }
func (p *PhysFilter) String() string    { return fmt.Sprintf("Filter(%s)", p.Input) }
func (p *PhysProject) String() string   { return fmt.Sprintf("Project(%s)", p.Input) }
func (p *PhysHashJoin) String() string {
	return fmt.Sprintf("HashJoin(%s, %s)", p.Left, p.Right)
}
func (p *PhysNestedLoopJoin) String() string {
	return fmt.Sprintf("NestedLoopJoin(%s, %s)", p.Left, p.Right)
}
func (p *PhysHashAggregate) String() string { return fmt.Sprintf("HashAggregate(%s)", p.Input) }
func (p *PhysSort) String() string          { return fmt.Sprintf("Sort(%s)", p.Input) }
func (p *PhysLimit) String() string         { return fmt.Sprintf("Limit(%s)", p.Input) }

// BuildPhysicalPlan lowers an optimized logical plan to physical
// operators, choosing access paths and join strategies by cost. A nil
// environment plans without index paths or locality awareness.
func BuildPhysicalPlan(plan LogicalPlan, env *Environment) (PhysicalPlan, error) {
	if env == nil {
		env = &Environment{}
	}
	switch p := plan.(type) {
	case *LogicalScan:
		return &PhysSeqScan{Table: p.Table, Alias: p.Alias, Columns: p.Columns, Travel: p.Travel}, nil
	case *LogicalFilter:
		// An equality predicate directly over a scan can use the index
		// path when the catalog confirms a covering index
		if scan, ok := p.Input.(*LogicalScan); ok && hasUsableIndex(p.Predicate, scan, env.Catalog) {
			return &PhysIndexScan{
				Table:     scan.Table,
				Alias:     scan.Alias,
				Columns:   scan.Columns,
				Predicate: p.Predicate,
				Travel:    scan.Travel,
			}, nil
		}
		input, err := BuildPhysicalPlan(p.Input, env)
		if err != nil {
			return nil, err
		}
		return &PhysFilter{Input: input, Predicate: p.Predicate}, nil
	case *LogicalJoin:
		left, err := BuildPhysicalPlan(p.Left, env)
		if err != nil {
			return nil, err
		}
		right, err := BuildPhysicalPlan(p.Right, env)
		if err != nil {
			return nil, err
		}
		return chooseJoin(p, left, right, env), nil
	case *LogicalProject:
		input, err := BuildPhysicalPlan(p.Input, env)
		if err != nil {
			return nil, err
		}
		return &PhysProject{Input: input, Star: p.Star, Columns: p.Columns}, nil
	case *LogicalAggregate:
		input, err := BuildPhysicalPlan(p.Input, env)
		if err != nil {
			return nil, err
		}
		return &PhysHashAggregate{Input: input, GroupBy: p.GroupBy, Aggregates: p.Aggregates}, nil
	case *LogicalSort:
		input, err := BuildPhysicalPlan(p.Input, env)
		if err != nil {
			return nil, err
		}
		return &PhysSort{Input: input, Keys: p.Keys}, nil
	case *LogicalLimit:
		input, err := BuildPhysicalPlan(p.Input, env)
		if err != nil {
			return nil, err
		}
		return &PhysLimit{Input: input, Count: p.Count, Offset: p.Offset}, nil
	}
	return nil, &PlanError{Message: fmt.Sprintf("no physical lowering for %T", plan)}
}

// chooseJoin picks the cheaper valid strategy. Hash join requires an
// equality condition; when both are valid the cost model decides.
func chooseJoin(join *LogicalJoin, left, right PhysicalPlan, env *Environment) PhysicalPlan {
	cross := false
	if env.Locality != nil {
		cross = !env.Locality.AreColocated(anchorTable(join.Left), anchorTable(join.Right))
	}
	nl := &PhysNestedLoopJoin{Kind: join.Kind, Left: left, Right: right, Condition: join.Condition, CrossShard: cross}
	if !isEquiCondition(join.Condition) {
		return nl
	}
	hash := &PhysHashJoin{Kind: join.Kind, Left: left, Right: right, Condition: join.Condition, CrossShard: cross}
	if hash.Cost().Total() <= nl.Cost().Total() {
		return hash
	}
	return nl
}

// anchorTable finds the leftmost scanned table of a logical subtree
func anchorTable(plan LogicalPlan) string {
	switch p := plan.(type) {
	case *LogicalScan:
		return p.Table
	case *LogicalFilter:
		return anchorTable(p.Input)
	case *LogicalJoin:
		return anchorTable(p.Left)
	case *LogicalProject:
		return anchorTable(p.Input)
	case *LogicalAggregate:
		return anchorTable(p.Input)
	case *LogicalSort:
		return anchorTable(p.Input)
	case *LogicalLimit:
		return anchorTable(p.Input)
	}
	return ""
}

// isEquiCondition reports whether the condition is a single column-equals-
// column comparison, the shape a hash join can key on.
func isEquiCondition(cond lang.FilterIntent) bool {
	cmp, ok := cond.(*lang.FilterComparison)
	if !ok || cmp.Op != lang.CmpEq {
		return false
	}
	return isColumnRef(cmp.Left) && isColumnRef(cmp.Right)
}

func isColumnRef(expr lang.ExpressionIntent) bool {
	switch expr.(type) {
	case *lang.ColumnIntent, *lang.QualifiedColumnIntent:
		return true
	}
	return false
}

// hasUsableIndex reports whether any conjunct compares an indexed column
// of the scanned table to a constant with equality. Without a catalog no
// index path is taken.
func hasUsableIndex(filter lang.FilterIntent, scan *LogicalScan, cat Catalog) bool {
	if cat == nil {
		return false
	}
	for _, conj := range splitConjuncts(filter) {
		cmp, ok := conj.(*lang.FilterComparison)
		if !ok || cmp.Op != lang.CmpEq {
			continue
		}
		col := cmp.Left
		if _, isConst := cmp.Left.(*lang.ConstantIntent); isConst {
			col = cmp.Right
		} else if _, isConst := cmp.Right.(*lang.ConstantIntent); !isConst {
			continue
		}
		name, ok := scanColumnName(col, scan)
		if !ok {
			continue
		}
		if cat.HasIndex(scan.Table, name) {
			return true
		}
	}
	return false
}

// scanColumnName resolves a column reference against the scan binding.
// Qualified references must match the scan's alias or table name.
func scanColumnName(expr lang.ExpressionIntent, scan *LogicalScan) (string, bool) {
	binding := scan.Alias
	if binding == "" {
		binding = scan.Table
	}
	switch e := expr.(type) {
	case *lang.ColumnIntent:
		return e.Name, true
	case *lang.QualifiedColumnIntent:
		if e.Table == binding {
			return e.Name, true
		}
	}
	return "", false
}
