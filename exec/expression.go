package exec

import (
	"strings"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

// Evaluate computes a scalar expression against one tuple
func Evaluate(tuple *common.Tuple, expr lang.ExpressionIntent) (common.Value, error) {
	switch e := expr.(type) {
	case *lang.ConstantIntent:
		return e.Value, nil

	case *lang.ColumnIntent:
		// A column the tuple does not carry reads as null
		v, ok := tuple.Get(e.Name)
		if !ok {
			return common.Null(), nil
		}
		return v, nil

	case *lang.QualifiedColumnIntent:
		v, ok := tuple.Get(e.Table + "." + e.Name)
		if !ok {
			return common.Null(), nil
		}
		return v, nil

	case *lang.ArithmeticIntent:
		left, err := Evaluate(tuple, e.Left)
		if err != nil {
			return common.Value{}, err
		}
		right, err := Evaluate(tuple, e.Right)
		if err != nil {
			return common.Value{}, err
		}
		return applyArith(e.Op, left, right)

	case *lang.FunctionIntent:
		return applyScalarFunction(tuple, e)
	}
	return common.Value{}, typeMismatch("unsupported expression %T", expr)
}

// applyArith applies an arithmetic operator with numeric promotion. A
// null operand yields null; two strings concatenate under +.
func applyArith(op lang.ArithOp, left, right common.Value) (common.Value, error) {
	if left.IsNull() || right.IsNull() {
		return common.Null(), nil
	}

	if left.Kind == common.KindString && right.Kind == common.KindString {
		if op == lang.ArithAdd {
			return common.String(left.S + right.S), nil
		}
		return common.Value{}, typeMismatch("operator %s not defined for strings", op)
	}

	if left.Kind == common.KindInt && right.Kind == common.KindInt {
		switch op {
		case lang.ArithAdd:
			return common.Int(left.I + right.I), nil
		case lang.ArithSub:
			return common.Int(left.I - right.I), nil
		case lang.ArithMul:
			return common.Int(left.I * right.I), nil
		case lang.ArithDiv:
			if right.I == 0 {
				return common.Value{}, &ExecError{Kind: DivideByZero, Message: "integer division by zero"}
			}
			return common.Int(left.I / right.I), nil
		}
	}

	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if !lok || !rok {
		return common.Value{}, typeMismatch("operator %s not defined for %s and %s", op, left.TypeName(), right.TypeName())
	}

	switch op {
	case lang.ArithAdd:
		return common.Float(lf + rf), nil
	case lang.ArithSub:
		return common.Float(lf - rf), nil
	case lang.ArithMul:
		return common.Float(lf * rf), nil
	case lang.ArithDiv:
		if rf == 0 {
			return common.Value{}, &ExecError{Kind: DivideByZero, Message: "division by zero"}
		}
		return common.Float(lf / rf), nil
	}
	return common.Value{}, typeMismatch("unknown arithmetic operator %v", op)
}

func applyScalarFunction(tuple *common.Tuple, fn *lang.FunctionIntent) (common.Value, error) {
	name := strings.ToLower(fn.Name)

	if len(fn.Args) != 1 {
		return common.Value{}, &ExecError{
			Kind:    UnknownFunction,
			Message: "function " + name + " expects exactly one argument",
		}
	}
	arg, err := Evaluate(tuple, fn.Args[0])
	if err != nil {
		return common.Value{}, err
	}
	if arg.IsNull() {
		return common.Null(), nil
	}

	switch name {
	case "upper":
		if arg.Kind != common.KindString {
			return common.Value{}, typeMismatch("upper expects a string, got %s", arg.TypeName())
		}
		return common.String(strings.ToUpper(arg.S)), nil
	case "lower":
		if arg.Kind != common.KindString {
			return common.Value{}, typeMismatch("lower expects a string, got %s", arg.TypeName())
		}
		return common.String(strings.ToLower(arg.S)), nil
	case "length":
		if arg.Kind != common.KindString {
			return common.Value{}, typeMismatch("length expects a string, got %s", arg.TypeName())
		}
		return common.Int(int64(len(arg.S))), nil
	case "abs":
		switch arg.Kind {
		case common.KindInt:
			if arg.I < 0 {
				return common.Int(-arg.I), nil
			}
			return arg, nil
		case common.KindFloat:
			if arg.F < 0 {
				return common.Float(-arg.F), nil
			}
			return arg, nil
		}
		return common.Value{}, typeMismatch("abs expects a number, got %s", arg.TypeName())
	}

	return common.Value{}, &ExecError{Kind: UnknownFunction, Message: "unknown function " + name}
}

// EvaluateFilter applies a predicate to one tuple. Comparisons involving
// null are false, never errors.
func EvaluateFilter(tuple *common.Tuple, filter lang.FilterIntent) (bool, error) {
	switch f := filter.(type) {
	case *lang.FilterAlways:
		return true, nil
	case *lang.FilterNever:
		return false, nil

	case *lang.FilterComparison:
		left, err := Evaluate(tuple, f.Left)
		if err != nil {
			return false, err
		}
		right, err := Evaluate(tuple, f.Right)
		if err != nil {
			return false, err
		}
		return compareValues(f.Op, left, right)

	case *lang.FilterLogical:
		switch f.Op {
		case lang.LogicalNot:
			inner, err := EvaluateFilter(tuple, f.Operands[0])
			if err != nil {
				return false, err
			}
			return !inner, nil
		case lang.LogicalAnd:
			for _, op := range f.Operands {
				ok, err := EvaluateFilter(tuple, op)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		case lang.LogicalOr:
			for _, op := range f.Operands {
				ok, err := EvaluateFilter(tuple, op)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return false, typeMismatch("unsupported filter %T", filter)
}

func compareValues(op lang.CompareOp, left, right common.Value) (bool, error) {
	if left.IsNull() || right.IsNull() {
		return false, nil
	}
	if left.Kind != right.Kind {
		return false, typeMismatch("cannot compare %s with %s", left.TypeName(), right.TypeName())
	}

	switch op {
	case lang.CmpEq:
		return left.Equal(right), nil
	case lang.CmpNe:
		return !left.Equal(right), nil
	}

	cmp, ok := left.Compare(right)
	if !ok {
		return false, typeMismatch("cannot compare %s with %s", left.TypeName(), right.TypeName())
	}

	switch op {
	case lang.CmpLt:
		return cmp < 0, nil
	case lang.CmpLe:
		return cmp <= 0, nil
	case lang.CmpGt:
		return cmp > 0, nil
	case lang.CmpGe:
		return cmp >= 0, nil
	}
	return false, typeMismatch("unknown comparison operator %v", op)
}
