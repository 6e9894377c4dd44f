package exec

import (
	"errors"
	"testing"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/hlc"
	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/sharding"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/txn"
)

func newTestEngine(t *testing.T) (*Engine, *txn.Manager) {
	t.Helper()
	mgr := txn.NewManager(hlc.NewClock(1))
	eng := NewEngine(
		storage.NewMemoryAdapter(),
		mgr,
		sharding.NewRouter(sharding.NewKeyspace(16), 1),
		cfg.SandboxConfiguration{MaxWallSeconds: 300, MaxMemoryMB: 100},
	)
	return eng, mgr
}

// run executes one statement in auto-commit mode
func run(t *testing.T, eng *Engine, mgr *txn.Manager, src string) *Result {
	t.Helper()
	res, err := tryRun(eng, mgr, src)
	if err != nil {
		t.Fatalf("%s: %v", src, err)
	}
	return res
}

func tryRun(eng *Engine, mgr *txn.Manager, src string) (*Result, error) {
	stmt, err := lang.Parse(src)
	if err != nil {
		return nil, err
	}
	intent, err := lang.Analyze(stmt)
	if err != nil {
		return nil, err
	}

	switch it := intent.(type) {
	case *lang.RetrieveIntent:
		return eng.Query(it, mgr.AutoSnapshot())
	case *lang.MutateIntent:
		snap := mgr.AutoSnapshot()
		res, err := eng.Mutate(it, snap)
		if err != nil {
			return nil, err
		}
		mgr.RecordCommit(snap.Xid, snap.ReadTime)
		return res, nil
	case *lang.SchemaIntent:
		switch it.Kind {
		case lang.SchemaCreateIndex:
			return &Result{}, eng.CreateIndex(it)
		case lang.SchemaDropTable:
			return &Result{}, eng.DropTable(it)
		default:
			return &Result{}, eng.CreateTable(it)
		}
	}
	return nil, errors.New("unsupported statement in test harness")
}

func seedUsers(t *testing.T, eng *Engine, mgr *txn.Manager) {
	t.Helper()
	run(t, eng, mgr, "create table users (id int primary key, name text, age int)")
	run(t, eng, mgr, "insert into users (id, name, age) values (1, 'ada', 36)")
	run(t, eng, mgr, "insert into users (id, name, age) values (2, 'brin', 41)")
	run(t, eng, mgr, "insert into users (id, name, age) values (3, 'cleo', 29)")
}

func cell(t *testing.T, res *Result, row int, col string) common.Value {
	t.Helper()
	v, ok := res.Rows[row].Get(col)
	if !ok {
		t.Fatalf("Column %q missing from row %d (%v)", col, row, res.Rows[row].Columns())
	}
	return v
}

func TestEngine_RetrieveAll(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "retrieve * from users order by id")
	if len(res.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "name"); v.S != "ada" {
		t.Errorf("First row name = %s, want ada", v.S)
	}
}

func TestEngine_Filter(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "retrieve name from users where age > 30 order by name")
	if len(res.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "name"); v.S != "ada" {
		t.Errorf("Got %s, want ada", v.S)
	}
	if v := cell(t, res, 1, "name"); v.S != "brin" {
		t.Errorf("Got %s, want brin", v.S)
	}
}

func TestEngine_Projection(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "retrieve name, age * 2 as doubled from users where id = 1")
	if len(res.Rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "doubled"); v.I != 72 {
		t.Errorf("doubled = %d, want 72", v.I)
	}
}

func TestEngine_Aggregates(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "retrieve count(*) as n, sum(age) as total, avg(age) as mean from users")
	if len(res.Rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "n"); v.I != 3 {
		t.Errorf("count = %d, want 3", v.I)
	}
	if v := cell(t, res, 0, "total"); v.I != 106 {
		t.Errorf("sum = %d, want 106", v.I)
	}
	mean := cell(t, res, 0, "mean")
	if !mean.Equal(common.Float(106.0 / 3.0)) {
		t.Errorf("avg = %v, want %v", mean.F, 106.0/3.0)
	}
}

func TestEngine_GroupBy(t *testing.T) {
	eng, mgr := newTestEngine(t)
	run(t, eng, mgr, "create table emp (name text, dept text, salary int)")
	run(t, eng, mgr, "insert into emp (name, dept, salary) values ('a', 'eng', 100)")
	run(t, eng, mgr, "insert into emp (name, dept, salary) values ('b', 'eng', 200)")
	run(t, eng, mgr, "insert into emp (name, dept, salary) values ('c', 'ops', 50)")

	res := run(t, eng, mgr, "retrieve dept, count(*) as n, max(salary) as top from emp group by dept order by dept")
	if len(res.Rows) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "dept"); v.S != "eng" {
		t.Errorf("First group = %s, want eng", v.S)
	}
	if v := cell(t, res, 0, "n"); v.I != 2 {
		t.Errorf("eng count = %d, want 2", v.I)
	}
	if v := cell(t, res, 0, "top"); v.I != 200 {
		t.Errorf("eng max = %d, want 200", v.I)
	}
	if v := cell(t, res, 1, "n"); v.I != 1 {
		t.Errorf("ops count = %d, want 1", v.I)
	}
}

func TestEngine_AggregateOverEmptyTable(t *testing.T) {
	eng, mgr := newTestEngine(t)
	run(t, eng, mgr, "create table empty_t (x int)")

	res := run(t, eng, mgr, "retrieve count(*) as n, sum(x) as total from empty_t")
	if len(res.Rows) != 1 {
		t.Fatalf("Grand aggregate over empty input should yield 1 row, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "n"); v.I != 0 {
		t.Errorf("count = %d, want 0", v.I)
	}
	if v := cell(t, res, 0, "total"); !v.IsNull() {
		t.Errorf("sum over empty input should be null, got %s", v)
	}
}

func TestEngine_Join(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)
	run(t, eng, mgr, "create table orders (id int, user_id int, total int)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (10, 1, 500)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (11, 1, 700)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (12, 2, 100)")

	res := run(t, eng, mgr,
		"retrieve u.name, o.total from users u join orders o on u.id = o.user_id where o.total > 200 order by o.total")
	if len(res.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "u.name"); v.S != "ada" {
		t.Errorf("Got %s, want ada", v.S)
	}
	if v := cell(t, res, 1, "o.total"); v.I != 700 {
		t.Errorf("Got %d, want 700", v.I)
	}
}

func TestEngine_LeftJoinKeepsUnmatched(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)
	run(t, eng, mgr, "create table orders (id int, user_id int, total int)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (10, 1, 500)")

	res := run(t, eng, mgr,
		"retrieve u.name from users u left join orders o on u.id = o.user_id order by u.name")
	if len(res.Rows) != 3 {
		t.Fatalf("Left join should keep all 3 users, got %d rows", len(res.Rows))
	}
}

func TestEngine_LeftJoinNullExtendsRightColumns(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)
	run(t, eng, mgr, "create table orders (id int, user_id int, total int)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (10, 1, 500)")

	res := run(t, eng, mgr,
		"retrieve u.name, o.total from users u left join orders o on u.id = o.user_id order by u.name")
	if len(res.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "o.total"); v.I != 500 {
		t.Errorf("ada total = %v, want 500", v)
	}
	for _, row := range []int{1, 2} {
		if v := cell(t, res, row, "o.total"); !v.IsNull() {
			t.Errorf("Unmatched user row %d should carry null total, got %s", row, v)
		}
	}
}

func TestEngine_JoinOutputFollowsLeftOrder(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)
	run(t, eng, mgr, "create table orders (id int, user_id int, total int)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (10, 3, 10)")
	run(t, eng, mgr, "insert into orders (id, user_id, total) values (11, 1, 20)")

	// No order by: rows surface in the left input's scan order
	res := run(t, eng, mgr,
		"retrieve u.name, o.total from users u left join orders o on u.id = o.user_id")
	want := []string{"ada", "brin", "cleo"}
	if len(res.Rows) != len(want) {
		t.Fatalf("Expected %d rows, got %d", len(want), len(res.Rows))
	}
	for i, name := range want {
		if v := cell(t, res, i, "u.name"); v.S != name {
			t.Errorf("Row %d = %s, want %s", i, v.S, name)
		}
	}
}

func TestEngine_UnknownColumnReadsAsNull(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "retrieve ghost from users")
	if len(res.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(res.Rows))
	}
	for i := range res.Rows {
		if v := cell(t, res, i, "ghost"); !v.IsNull() {
			t.Errorf("Row %d ghost = %s, want null", i, v)
		}
	}
}

func TestEngine_CrossTypeComparisonRejected(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	_, err := tryRun(eng, mgr, "retrieve * from users where name = 1")
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != TypeMismatch {
		t.Errorf("Comparing text with int should report a type mismatch, got %v", err)
	}
}

func TestEngine_GroupByWithoutAggregatesIsDistinct(t *testing.T) {
	eng, mgr := newTestEngine(t)
	run(t, eng, mgr, "create table emp (name text, dept text)")
	run(t, eng, mgr, "insert into emp (name, dept) values ('a', 'eng')")
	run(t, eng, mgr, "insert into emp (name, dept) values ('b', 'eng')")
	run(t, eng, mgr, "insert into emp (name, dept) values ('c', 'ops')")

	res := run(t, eng, mgr, "retrieve dept from emp group by dept order by dept")
	if len(res.Rows) != 2 {
		t.Fatalf("Expected 2 distinct departments, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "dept"); v.S != "eng" {
		t.Errorf("First group = %s, want eng", v.S)
	}
	if v := cell(t, res, 1, "dept"); v.S != "ops" {
		t.Errorf("Second group = %s, want ops", v.S)
	}
}

func TestEngine_CreateIndexAndDropTable(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	run(t, eng, mgr, "create index idx_age on users (age)")
	schema, err := eng.Adapter().TableSchema("users")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := schema.Index("idx_age"); !ok {
		t.Error("Index idx_age missing from the table schema")
	}

	// Indexed equality still returns the right rows
	res := run(t, eng, mgr, "retrieve name from users where age = 36")
	if len(res.Rows) != 1 || cell(t, res, 0, "name").S != "ada" {
		t.Errorf("Indexed lookup returned %d rows", len(res.Rows))
	}

	if _, err := tryRun(eng, mgr, "create index idx_ghost on users (ghost)"); err == nil {
		t.Error("Index over a missing column should fail")
	}

	run(t, eng, mgr, "drop table users")
	if _, err := tryRun(eng, mgr, "retrieve * from users"); err == nil {
		t.Error("Dropped table should not be queryable")
	}
}

func TestEngine_UpdateAndDelete(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "update users set age = age + 1 where name = 'ada'")
	if res.Affected != 1 {
		t.Fatalf("Update affected %d, want 1", res.Affected)
	}
	check := run(t, eng, mgr, "retrieve age from users where name = 'ada'")
	if v := cell(t, check, 0, "age"); v.I != 37 {
		t.Errorf("age = %d, want 37", v.I)
	}

	res = run(t, eng, mgr, "delete from users where age < 30")
	if res.Affected != 1 {
		t.Fatalf("Delete affected %d, want 1", res.Affected)
	}
	remaining := run(t, eng, mgr, "retrieve count(*) as n from users")
	if v := cell(t, remaining, 0, "n"); v.I != 2 {
		t.Errorf("Remaining = %d, want 2", v.I)
	}
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	reader := mgr.Begin(false, nil)

	// A write committed after the reader began must stay invisible to it
	run(t, eng, mgr, "insert into users (id, name, age) values (4, 'dara', 50)")

	stmt, _ := lang.Parse("retrieve count(*) as n from users")
	intent, _ := lang.Analyze(stmt)
	res, err := eng.Query(intent.(*lang.RetrieveIntent), reader.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if v := cell(t, res, 0, "n"); v.I != 3 {
		t.Errorf("Reader saw %d rows, want 3", v.I)
	}

	// A fresh snapshot sees the new row
	after := run(t, eng, mgr, "retrieve count(*) as n from users")
	if v := cell(t, after, 0, "n"); v.I != 4 {
		t.Errorf("Fresh snapshot saw %d rows, want 4", v.I)
	}
	mgr.Rollback(reader.Xid)
}

func TestEngine_DeleteInvisibleToOlderSnapshot(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	reader := mgr.Begin(false, nil)
	run(t, eng, mgr, "delete from users where id = 1")

	stmt, _ := lang.Parse("retrieve count(*) as n from users")
	intent, _ := lang.Analyze(stmt)
	res, err := eng.Query(intent.(*lang.RetrieveIntent), reader.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if v := cell(t, res, 0, "n"); v.I != 3 {
		t.Errorf("Reader should still see the deleted row, got %d", v.I)
	}
	mgr.Rollback(reader.Xid)
}

func TestEngine_SandboxMemoryTrip(t *testing.T) {
	mgr := txn.NewManager(hlc.NewClock(1))
	eng := NewEngine(
		storage.NewMemoryAdapter(),
		mgr,
		sharding.NewRouter(sharding.NewKeyspace(16), 1),
		cfg.SandboxConfiguration{MaxWallSeconds: 300, MaxMemoryMB: 0},
	)

	run(t, eng, mgr, "create table t (x int)")
	run(t, eng, mgr, "insert into t (x) values (1)")
	run(t, eng, mgr, "insert into t (x) values (2)")

	// Sort materializes, which must trip the zero memory budget
	_, err := tryRun(eng, mgr, "retrieve x from t order by x")
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != SandboxExceeded {
		t.Errorf("Expected SandboxExceeded, got %v", err)
	}
}

func TestEngine_InsertNullability(t *testing.T) {
	eng, mgr := newTestEngine(t)
	run(t, eng, mgr, "create table strict_t (id int primary key, note text)")

	if _, err := tryRun(eng, mgr, "insert into strict_t (note) values ('x')"); err == nil {
		t.Error("Insert omitting a primary key column should fail")
	}
	if _, err := tryRun(eng, mgr, "insert into strict_t (id) values (1)"); err != nil {
		t.Errorf("Insert omitting a nullable column should succeed: %v", err)
	}
}

func TestEngine_LimitOffset(t *testing.T) {
	eng, mgr := newTestEngine(t)
	seedUsers(t, eng, mgr)

	res := run(t, eng, mgr, "retrieve name from users order by id limit 1 offset 1")
	if len(res.Rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(res.Rows))
	}
	if v := cell(t, res, 0, "name"); v.S != "brin" {
		t.Errorf("Got %s, want brin", v.S)
	}
}
