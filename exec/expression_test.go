package exec

import (
	"errors"
	"testing"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

func evalExpr(t *testing.T, tuple *common.Tuple, src string) (common.Value, error) {
	t.Helper()
	stmt, err := lang.Parse("retrieve " + src + " from t")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := stmt.(*lang.SelectStatement)
	intent, err := lang.AnalyzeExpression(sel.Items[0].Expr)
	if err != nil {
		t.Fatalf("AnalyzeExpression failed: %v", err)
	}
	return Evaluate(tuple, intent)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("a", common.Int(10))
	tuple.Set("b", common.Float(2.5))
	tuple.Set("s", common.String("hi"))

	tests := []struct {
		expr string
		want common.Value
	}{
		{"a + 5", common.Int(15)},
		{"a - 3", common.Int(7)},
		{"a * 2", common.Int(20)},
		{"a / 3", common.Int(3)}, // Integer division truncates
		{"a + b", common.Float(12.5)},
		{"b * 2", common.Float(5.0)},
		{"s + 'there'", common.String("hithere")},
	}
	for _, tt := range tests {
		got, err := evalExpr(t, tuple, tt.expr)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.expr, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_DivideByZero(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("a", common.Int(10))

	_, err := evalExpr(t, tuple, "a / 0")
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != DivideByZero {
		t.Errorf("Expected DivideByZero, got %v", err)
	}
}

func TestEvaluate_NullPropagation(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("a", common.Null())

	got, err := evalExpr(t, tuple, "a + 1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.IsNull() {
		t.Errorf("null + 1 should be null, got %s", got)
	}

	got, err = evalExpr(t, tuple, "upper(a)")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.IsNull() {
		t.Errorf("upper(null) should be null, got %s", got)
	}
}

func TestEvaluate_ScalarFunctions(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("s", common.String("Hello"))
	tuple.Set("n", common.Int(-7))
	tuple.Set("f", common.Float(-1.5))

	tests := []struct {
		expr string
		want common.Value
	}{
		{"upper(s)", common.String("HELLO")},
		{"lower(s)", common.String("hello")},
		{"length(s)", common.Int(5)},
		{"abs(n)", common.Int(7)},
		{"abs(f)", common.Float(1.5)},
	}
	for _, tt := range tests {
		got, err := evalExpr(t, tuple, tt.expr)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.expr, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_UnknownFunction(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("s", common.String("x"))

	_, err := evalExpr(t, tuple, "reverse(s)")
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != UnknownFunction {
		t.Errorf("Expected UnknownFunction, got %v", err)
	}
}

func TestEvaluate_UnknownColumn(t *testing.T) {
	tuple := common.NewTuple()

	_, err := evalExpr(t, tuple, "missing + 1")
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != TypeMismatch {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}
}

func evalPredicate(t *testing.T, tuple *common.Tuple, src string) (bool, error) {
	t.Helper()
	stmt, err := lang.Parse("retrieve * from t where " + src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := stmt.(*lang.SelectStatement)
	filter, err := lang.AnalyzeFilter(sel.Where)
	if err != nil {
		t.Fatalf("AnalyzeFilter failed: %v", err)
	}
	return EvaluateFilter(tuple, filter)
}

func TestEvaluateFilter(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("a", common.Int(5))
	tuple.Set("name", common.String("ada"))
	tuple.Set("missing_val", common.Null())

	tests := []struct {
		pred string
		want bool
	}{
		{"a = 5", true},
		{"a != 5", false},
		{"a > 3 and a < 10", true},
		{"a < 3 or name = 'ada'", true},
		{"not (a = 5)", false},
		{"missing_val = 5", false},  // Null comparisons are false
		{"missing_val != 5", false}, // Even negated
		{"a + 1 = 6", true},
	}
	for _, tt := range tests {
		got, err := evalPredicate(t, tuple, tt.pred)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.pred, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.pred, got, tt.want)
		}
	}
}

func TestEvaluate_FloatEqualityEpsilon(t *testing.T) {
	tuple := common.NewTuple()
	tuple.Set("x", common.Float(0.1))
	tuple.Set("y", common.Float(0.2))

	got, err := evalPredicate(t, tuple, "x + y = 0.3")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got {
		t.Error("0.1 + 0.2 should equal 0.3 under epsilon comparison")
	}
}
