package exec

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/planner"
	"github.com/minsql/minsql/sharding"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/telemetry"
	"github.com/minsql/minsql/txn"
)

// ChangeHook observes committed row changes. The publisher subscribes
// through it; a nil hook disables change capture.
type ChangeHook func(op, table string, shard, xid, rowID uint64, before, after *common.Tuple)

// Result is the outcome of one executed statement
type Result struct {
	Columns  []string
	Rows     []*common.Tuple
	Affected int64
}

// Engine runs intents against storage under snapshot isolation
type Engine struct {
	adapter  storage.Adapter
	manager  *txn.Manager
	router   *sharding.Router
	locality *planner.Locality
	sandbox  cfg.SandboxConfiguration
	hook     ChangeHook
}

// NewEngine wires the execution engine
func NewEngine(adapter storage.Adapter, manager *txn.Manager, router *sharding.Router, sandbox cfg.SandboxConfiguration) *Engine {
	return &Engine{
		adapter:  adapter,
		manager:  manager,
		router:   router,
		locality: planner.NewLocality(uint32(router.Keyspace().NumShards())),
		sandbox:  sandbox,
	}
}

// SetChangeHook registers the change observer. Must be called before the
// engine serves traffic.
func (e *Engine) SetChangeHook(hook ChangeHook) {
	e.hook = hook
}

// Adapter exposes the storage adapter for lifecycle management
func (e *Engine) Adapter() storage.Adapter {
	return e.adapter
}

func (e *Engine) newSandbox() *Sandbox {
	return NewSandbox(
		time.Duration(e.sandbox.MaxWallSeconds)*time.Second,
		uint64(e.sandbox.MaxMemoryMB)<<20,
	)
}

// Query plans and runs a retrieval under the given snapshot
func (e *Engine) Query(intent *lang.RetrieveIntent, snap *txn.Snapshot) (*Result, error) {
	start := time.Now()

	shards := e.routeShards(intent)
	local := shards[:0]
	for _, s := range shards {
		if e.router.IsLocal(s) {
			local = append(local, s)
		}
	}
	if len(local) == 0 {
		// Every routed shard lives elsewhere, nothing to read here
		return &Result{}, nil
	}

	logical, err := planner.BuildLogicalPlan(intent)
	if err != nil {
		return nil, err
	}
	logical = planner.Optimize(logical)
	env := &planner.Environment{
		Catalog:  &adapterCatalog{adapter: e.adapter},
		Locality: e.locality,
	}
	physical, err := planner.BuildPhysicalPlan(logical, env)
	if err != nil {
		return nil, err
	}

	root, err := buildOperator(physical)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Adapter:  e.adapter,
		Snapshot: snap,
		Manager:  e.manager,
		Sandbox:  e.newSandbox(),
	}

	if err := root.Open(ctx); err != nil {
		return nil, err
	}
	defer root.Close()

	result := &Result{Columns: outputColumns(physical)}
	for {
		tuple, ok, err := root.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if result.Columns == nil {
			result.Columns = tuple.Columns()
		}
		result.Rows = append(result.Rows, tuple)
	}

	telemetry.QueryDurationSeconds.With("retrieve").Observe(time.Since(start).Seconds())
	telemetry.RowsReturned.Observe(float64(len(result.Rows)))
	log.Debug().
		Str("plan", physical.String()).
		Int("rows", len(result.Rows)).
		Int("shards", len(local)).
		Dur("elapsed", time.Since(start)).
		Msg("Query executed")
	return result, nil
}

// routeShards narrows the shard set for the primary table. A filter
// pinning the primary key to a constant routes to one shard; everything
// else touches the full keyspace.
func (e *Engine) routeShards(intent *lang.RetrieveIntent) []uint64 {
	schema, err := e.adapter.TableSchema(intent.Table)
	if err == nil && intent.Filter != nil {
		for i := range schema.Columns {
			if schema.Columns[i].PrimaryKey {
				return e.router.Route(schema.Columns[i].Name, intent.Filter)
			}
		}
	}
	return e.router.Route("", nil)
}

// adapterCatalog answers the planner's index questions from live table
// schemas. The primary key counts as indexed.
type adapterCatalog struct {
	adapter storage.Adapter
}

func (c *adapterCatalog) HasIndex(table, column string) bool {
	schema, err := c.adapter.TableSchema(table)
	if err != nil {
		return false
	}
	if col, ok := schema.Column(column); ok && col.PrimaryKey {
		return true
	}
	for _, idx := range schema.Indexes {
		if len(idx.Columns) > 0 && idx.Columns[0] == column {
			return true
		}
	}
	return false
}

// outputColumns derives the result header from the plan root. Star
// projections take their columns from the first tuple instead.
func outputColumns(plan planner.PhysicalPlan) []string {
	switch p := plan.(type) {
	case *planner.PhysProject:
		if p.Star {
			return nil
		}
		cols := make([]string, len(p.Columns))
		for i, proj := range p.Columns {
			cols[i] = proj.Name()
		}
		return cols
	case *planner.PhysSort:
		return outputColumns(p.Input)
	case *planner.PhysLimit:
		return outputColumns(p.Input)
	}
	return nil
}

// buildOperator lowers a physical plan node to its executable operator
func buildOperator(plan planner.PhysicalPlan) (Operator, error) {
	switch p := plan.(type) {
	case *planner.PhysSeqScan:
		return newScanOperator(p.Table, p.Alias, p.Columns, p.Predicate, p.Travel), nil

	case *planner.PhysIndexScan:
		return newScanOperator(p.Table, p.Alias, p.Columns, p.Predicate, p.Travel), nil

	case *planner.PhysFilter:
		input, err := buildOperator(p.Input)
		if err != nil {
			return nil, err
		}
		return &filterOperator{input: input, predicate: p.Predicate}, nil

	case *planner.PhysProject:
		input, err := buildOperator(p.Input)
		if err != nil {
			return nil, err
		}
		return &projectOperator{input: input, star: p.Star, columns: p.Columns}, nil

	case *planner.PhysHashJoin:
		left, err := buildOperator(p.Left)
		if err != nil {
			return nil, err
		}
		right, err := buildOperator(p.Right)
		if err != nil {
			return nil, err
		}
		return &hashJoinOperator{kind: p.Kind, left: left, right: right, condition: p.Condition}, nil

	case *planner.PhysNestedLoopJoin:
		left, err := buildOperator(p.Left)
		if err != nil {
			return nil, err
		}
		right, err := buildOperator(p.Right)
		if err != nil {
			return nil, err
		}
		return &nestedLoopJoinOperator{kind: p.Kind, left: left, right: right, condition: p.Condition}, nil

	case *planner.PhysHashAggregate:
		input, err := buildOperator(p.Input)
		if err != nil {
			return nil, err
		}
		return &hashAggregateOperator{input: input, groupBy: p.GroupBy, aggregates: p.Aggregates}, nil

	case *planner.PhysSort:
		input, err := buildOperator(p.Input)
		if err != nil {
			return nil, err
		}
		return &sortOperator{input: input, keys: p.Keys}, nil

	case *planner.PhysLimit:
		input, err := buildOperator(p.Input)
		if err != nil {
			return nil, err
		}
		return &limitOperator{input: input, count: p.Count, offset: p.Offset}, nil
	}
	return nil, fmt.Errorf("no operator for plan node %T", plan)
}
