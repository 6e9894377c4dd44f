package planner

import (
	"testing"

	"github.com/minsql/minsql/lang"
)

// stubCatalog lists indexed columns as "table.column" entries
type stubCatalog map[string]bool

func (c stubCatalog) HasIndex(table, column string) bool {
	return c[table+"."+column]
}

func lowerPhysical(t *testing.T, src string) PhysicalPlan {
	t.Helper()
	return lowerPhysicalEnv(t, src, nil)
}

func lowerPhysicalEnv(t *testing.T, src string, env *Environment) PhysicalPlan {
	t.Helper()
	plan, err := BuildPhysicalPlan(Optimize(lowerPlan(t, src)), env)
	if err != nil {
		t.Fatalf("physical plan %q: %v", src, err)
	}
	return plan
}

func TestCost_TotalSumsAllComponents(t *testing.T) {
	c := Cost{CPU: 1, IO: 2, Memory: 50, Network: 4}
	if c.Total() != 57 {
		t.Errorf("Total = %f", c.Total())
	}
}

func TestSeqScanCost(t *testing.T) {
	scan := &PhysSeqScan{Table: "t"}
	want := Cost{
		CPU: SeqScanRows * TupleCPUCost,
		IO:  SeqScanRows * PageIOCost / 100,
	}
	if scan.Cost() != want {
		t.Errorf("Cost = %+v, want %+v", scan.Cost(), want)
	}
	if scan.Rows() != SeqScanRows {
		t.Errorf("Rows = %f", scan.Rows())
	}
}

func TestIndexScanCheaperThanSeqScan(t *testing.T) {
	seq := &PhysSeqScan{Table: "t"}
	idx := &PhysIndexScan{Table: "t"}
	if idx.Cost().Total() >= seq.Cost().Total() {
		t.Errorf("IndexScan total %f not below SeqScan total %f",
			idx.Cost().Total(), seq.Cost().Total())
	}
	if idx.Rows() != IndexScanRows {
		t.Errorf("Rows = %f", idx.Rows())
	}
}

func TestEqualityPredicateUsesIndexScan(t *testing.T) {
	env := &Environment{Catalog: stubCatalog{"t.id": true}}
	plan := lowerPhysicalEnv(t, "retrieve * from t where id = 5", env)
	if plan.String() != "Project(IndexScan(t))" {
		t.Errorf("Plan = %s", plan)
	}
}

func TestEqualityPredicateWithoutIndexStaysSeqScan(t *testing.T) {
	env := &Environment{Catalog: stubCatalog{"t.other": true}}
	plan := lowerPhysicalEnv(t, "retrieve * from t where id = 5", env)
	if plan.String() != "Project(Filter(SeqScan(t)))" {
		t.Errorf("Plan = %s", plan)
	}

	// No catalog, no index paths
	plan = lowerPhysical(t, "retrieve * from t where id = 5")
	if plan.String() != "Project(Filter(SeqScan(t)))" {
		t.Errorf("Plan without catalog = %s", plan)
	}
}

func TestRangePredicateUsesSeqScan(t *testing.T) {
	env := &Environment{Catalog: stubCatalog{"t.id": true}}
	plan := lowerPhysicalEnv(t, "retrieve * from t where id > 5", env)
	if plan.String() != "Project(Filter(SeqScan(t)))" {
		t.Errorf("Plan = %s", plan)
	}
}

func TestEquiJoinChoosesHashJoin(t *testing.T) {
	plan := lowerPhysical(t, "retrieve * from a join b on a.x = b.x")
	if plan.String() != "Project(HashJoin(SeqScan(a), SeqScan(b)))" {
		t.Errorf("Plan = %s", plan)
	}
}

func TestNonEquiJoinFallsBackToNestedLoop(t *testing.T) {
	plan := lowerPhysical(t, "retrieve * from a join b on a.x > b.x")
	if plan.String() != "Project(NestedLoopJoin(SeqScan(a), SeqScan(b)))" {
		t.Errorf("Plan = %s", plan)
	}
}

func TestHashJoinCost(t *testing.T) {
	left := &PhysSeqScan{Table: "a"}
	right := &PhysSeqScan{Table: "b"}
	join := &PhysHashJoin{Kind: lang.JoinInner, Left: left, Right: right}

	want := left.Cost().Add(right.Cost())
	want.CPU += (left.Rows() + right.Rows()) * OperatorCPUCost
	want.CPU += HashJoinBuildCPU
	want.Memory += HashJoinMemory
	if join.Cost() != want {
		t.Errorf("Cost = %+v, want %+v", join.Cost(), want)
	}
}

func TestNestedLoopJoinRescansInnerPerOuterRow(t *testing.T) {
	left := &PhysIndexScan{Table: "a"}
	right := &PhysSeqScan{Table: "b"}
	join := &PhysNestedLoopJoin{Kind: lang.JoinInner, Left: left, Right: right}

	// The inner rescan multiplies by the left input's cardinality
	want := left.Cost().Add(Cost{
		CPU: right.Cost().CPU * left.Rows(),
		IO:  right.Cost().IO * left.Rows(),
	})
	if join.Cost() != want {
		t.Errorf("Cost = %+v, want %+v", join.Cost(), want)
	}
}

func TestCrossShardJoinPaysNetworkCost(t *testing.T) {
	left := &PhysSeqScan{Table: "a"}
	right := &PhysSeqScan{Table: "b"}

	local := &PhysHashJoin{Kind: lang.JoinInner, Left: left, Right: right}
	remote := &PhysHashJoin{Kind: lang.JoinInner, Left: left, Right: right, CrossShard: true}

	if local.Cost().Network != 0 {
		t.Errorf("Colocated join network cost = %f", local.Cost().Network)
	}
	if got, want := remote.Cost().Network, right.Rows()*ShardTransferCost; got != want {
		t.Errorf("Cross-shard network cost = %f, want %f", got, want)
	}
	if remote.Cost().Total() <= local.Cost().Total() {
		t.Error("Cross-shard join should cost more than the colocated join")
	}
}

func TestColocatedTablesSkipNetworkCost(t *testing.T) {
	env := &Environment{Locality: NewLocality(16)}
	plan := lowerPhysicalEnv(t, "retrieve * from a join b on a.x = b.x", env)

	join, ok := plan.(*PhysProject).Input.(*PhysHashJoin)
	if !ok {
		t.Fatalf("Expected hash join, got %T", plan.(*PhysProject).Input)
	}
	if join.CrossShard {
		t.Error("Hash-partitioned tables over the same keyspace are colocated")
	}
}

func TestSortCost(t *testing.T) {
	scan := &PhysSeqScan{Table: "t"}
	sort := &PhysSort{Input: scan}

	want := scan.Cost().Add(Cost{
		CPU:    scan.Rows()*OperatorCPUCost + SortCPU,
		Memory: SortMemory,
	})
	if sort.Cost() != want {
		t.Errorf("Cost = %+v, want %+v", sort.Cost(), want)
	}
}

func TestAggregateCostAndCardinality(t *testing.T) {
	scan := &PhysSeqScan{Table: "t"}

	grouped := &PhysHashAggregate{
		Input:   scan,
		GroupBy: []lang.ExpressionIntent{&lang.ColumnIntent{Name: "dept"}},
	}
	want := scan.Cost().Add(Cost{
		CPU:    scan.Rows()*OperatorCPUCost + AggregateCPU,
		Memory: AggregateMemory,
	})
	if grouped.Cost() != want {
		t.Errorf("Cost = %+v, want %+v", grouped.Cost(), want)
	}
	if grouped.Rows() != scan.Rows()/10 {
		t.Errorf("Grouped rows = %f", grouped.Rows())
	}

	scalar := &PhysHashAggregate{Input: scan}
	if scalar.Rows() != 1 {
		t.Errorf("Scalar aggregate rows = %f", scalar.Rows())
	}
}

func TestLimitScalesCost(t *testing.T) {
	scan := &PhysSeqScan{Table: "t"}
	limit := &PhysLimit{Input: scan, Count: 10}

	child := scan.Cost()
	want := Cost{CPU: child.CPU * LimitScale, IO: child.IO * LimitScale}
	if limit.Cost() != want {
		t.Errorf("Cost = %+v, want %+v", limit.Cost(), want)
	}
	if limit.Rows() != 10 {
		t.Errorf("Rows = %f", limit.Rows())
	}
}

func TestFullPipelineShape(t *testing.T) {
	plan := lowerPhysical(t,
		"retrieve u.name, count(*) from orders o join users u on o.user_id = u.id where o.total > 100 group by u.name order by u.name limit 10")

	want := "Limit(Sort(Project(HashAggregate(HashJoin(Filter(SeqScan(orders)), SeqScan(users))))))"
	if plan.String() != want {
		t.Errorf("Plan = %s, want %s", plan, want)
	}
}
