package planner

import (
	"fmt"

	"github.com/minsql/minsql/lang"
)

// PlanError reports a query that cannot be planned
type PlanError struct {
	Message string
}

func (e *PlanError) Error() string {
	return "plan error: " + e.Message
}

// LogicalPlan is a node of the logical operator tree
type LogicalPlan interface {
	fmt.Stringer
	logicalNode()
}

// LogicalScan reads one table
type LogicalScan struct {
	Table  string
	Alias  string
	Travel *lang.TimeTravel
	// Columns is the pruned column set; nil means all columns
	Columns []string
}

// LogicalFilter keeps rows matching Predicate
type LogicalFilter struct {
	Input     LogicalPlan
	Predicate lang.FilterIntent
}

// LogicalJoin combines two inputs on a condition
type LogicalJoin struct {
	Kind      lang.JoinKind
	Left      LogicalPlan
	Right     LogicalPlan
	Condition lang.FilterIntent
}

// LogicalProject emits the output columns
type LogicalProject struct {
	Input   LogicalPlan
	Star    bool
	Columns []lang.Projection
}

// LogicalAggregate groups and aggregates
type LogicalAggregate struct {
	Input      LogicalPlan
	GroupBy    []lang.ExpressionIntent
	Aggregates []lang.AggregateIntent
}

// LogicalSort orders rows by keys
type LogicalSort struct {
	Input LogicalPlan
	Keys  []lang.OrderIntent
}

// LogicalLimit truncates the row stream
type LogicalLimit struct {
	Input  LogicalPlan
	Count  int64
	Offset int64
}

func (*LogicalScan) logicalNode()      {}
func (*LogicalFilter) logicalNode()    {}
func (*LogicalJoin) logicalNode()      {}
func (*LogicalProject) logicalNode()   {}
func (*LogicalAggregate) logicalNode() {}
func (*LogicalSort) logicalNode()      {}
func (*LogicalLimit) logicalNode()     {}

func (p *LogicalScan) String() string {
	if p.Alias != "" {
		return fmt.Sprintf("Scan(%s as %s)", p.Table, p.Alias)
	}
	return fmt.Sprintf("Scan(%s)", p.Table)
}

func (p *LogicalFilter) String() string {
	return fmt.Sprintf("Filter[%s](%s)", p.Predicate, p.Input)
}

func (p *LogicalJoin) String() string {
	kind := "Join"
	if p.Kind == lang.JoinLeftOuter {
		kind = "LeftJoin"
	}
	return fmt.Sprintf("%s[%s](%s, %s)", kind, p.Condition, p.Left, p.Right)
}

func (p *LogicalProject) String() string {
	if p.Star {
		return fmt.Sprintf("Project[*](%s)", p.Input)
	}
	return fmt.Sprintf("Project[%d cols](%s)", len(p.Columns), p.Input)
}

func (p *LogicalAggregate) String() string {
	return fmt.Sprintf("Aggregate[%d keys, %d aggs](%s)", len(p.GroupBy), len(p.Aggregates), p.Input)
}

func (p *LogicalSort) String() string {
	return fmt.Sprintf("Sort[%d keys](%s)", len(p.Keys), p.Input)
}

func (p *LogicalLimit) String() string {
	return fmt.Sprintf("Limit[%d+%d](%s)", p.Count, p.Offset, p.Input)
}

// BuildLogicalPlan lowers a retrieval intent into the canonical operator
// tree: joins folded left to right, then filter, aggregate, project, sort,
// limit.
func BuildLogicalPlan(intent *lang.RetrieveIntent) (LogicalPlan, error) {
	if intent.Table == "" {
		return nil, &PlanError{Message: "retrieval has no source table"}
	}

	var plan LogicalPlan = &LogicalScan{
		Table:  intent.Table,
		Alias:  intent.Alias,
		Travel: intent.Travel,
	}

	for _, join := range intent.Joins {
		plan = &LogicalJoin{
			Kind: join.Kind,
			Left: plan,
			Right: &LogicalScan{
				Table:  join.Table,
				Alias:  join.Alias,
				Travel: intent.Travel,
			},
			Condition: join.Condition,
		}
	}

	if _, always := intent.Filter.(*lang.FilterAlways); !always && intent.Filter != nil {
		plan = &LogicalFilter{Input: plan, Predicate: intent.Filter}
	}

	// Group by without aggregates degenerates to distinct over the keys
	if len(intent.Aggregates) > 0 || len(intent.GroupBy) > 0 {
		plan = &LogicalAggregate{
			Input:      plan,
			GroupBy:    intent.GroupBy,
			Aggregates: intent.Aggregates,
		}
	}

	plan = &LogicalProject{
		Input:   plan,
		Star:    intent.Star,
		Columns: projectColumns(intent),
	}

	if len(intent.OrderBy) > 0 {
		plan = &LogicalSort{Input: plan, Keys: intent.OrderBy}
	}

	if intent.Limit != nil {
		plan = &LogicalLimit{Input: plan, Count: *intent.Limit, Offset: intent.Offset}
	}

	return plan, nil
}

// projectColumns returns the output projections: plain columns plus one
// column per aggregate output.
func projectColumns(intent *lang.RetrieveIntent) []lang.Projection {
	if intent.Star && len(intent.Aggregates) == 0 {
		return nil
	}
	cols := make([]lang.Projection, 0, len(intent.Columns)+len(intent.Aggregates))
	cols = append(cols, intent.Columns...)
	for _, agg := range intent.Aggregates {
		cols = append(cols, lang.Projection{
			Expr:  &lang.ColumnIntent{Name: agg.Name()},
			Alias: agg.Name(),
		})
	}
	return cols
}
