package sandbox

import (
	"go/token"
	"time"
)

// callFrameMethod dispatches a whitelisted D.Method(...) call to the
// matching Frame method, coercing the already-evaluated argument values
// into the types each method expects. Every method name reaching here has
// already passed methodWhitelist in walkWhitelist.
func callFrameMethod(f *Frame, name string, args []any) (any, error) {
	switch name {
	case "Sum":
		return callOneString(args, f.Sum)
	case "Mean":
		return callOneString(args, f.Mean)
	case "Max":
		return callOneString(args, f.Max)
	case "Min":
		return callOneString(args, f.Min)
	case "Count":
		return callOneStringInt(args, f.Count)
	case "Std":
		return callOneString(args, f.Std)
	case "Var":
		return callOneString(args, f.Var)
	case "Median":
		return callOneString(args, f.Median)
	case "Quantile":
		if len(args) != 2 {
			return nil, unsafe("Quantile takes (column, quantile)")
		}
		col, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		q, err := asFloat(args[1])
		if err != nil {
			return nil, err
		}
		return f.Quantile(col, q)
	case "Unique":
		return callOneStringSlice(args, f.Unique)
	case "GroupByAgg":
		if len(args) != 3 {
			return nil, unsafe("GroupByAgg takes (group_column, metric_column, agg)")
		}
		g, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		m, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		agg, err := asString(args[2])
		if err != nil {
			return nil, err
		}
		return f.GroupByAgg(g, m, agg)
	case "PivotTable":
		strs, err := asStrings(args)
		if err != nil {
			return nil, err
		}
		for len(strs) < 4 {
			strs = append(strs, "")
		}
		return f.PivotTable(strs[0], strs[1], strs[2], strs[3])
	case "CrossTab":
		strs, err := asStrings(args)
		if err != nil || len(strs) != 2 {
			return nil, unsafe("CrossTab takes (column_a, column_b)")
		}
		return f.CrossTab(strs[0], strs[1])
	case "Corr":
		strs, err := asStrings(args)
		if err != nil || len(strs) != 2 {
			return nil, unsafe("Corr takes (column_a, column_b)")
		}
		return f.Corr(strs[0], strs[1])
	case "Head":
		n, err := callOneInt(args)
		if err != nil {
			return nil, err
		}
		return f.Head(n), nil
	case "Tail":
		n, err := callOneInt(args)
		if err != nil {
			return nil, err
		}
		return f.Tail(n), nil
	case "Shape":
		return f.Shape(), nil
	case "Empty":
		return f.Empty(), nil
	case "MissingCount":
		return callOneStringInt(args, f.MissingCount)
	case "MissingPercentage":
		return callOneString(args, f.MissingPercentage)
	default:
		return nil, unsafe("method %q is not in the tabular-method whitelist", name)
	}
}

func callOneString(args []any, fn func(string) (float64, error)) (any, error) {
	col, err := callOneStringArg(args)
	if err != nil {
		return nil, err
	}
	return fn(col)
}

func callOneStringInt(args []any, fn func(string) (int, error)) (any, error) {
	col, err := callOneStringArg(args)
	if err != nil {
		return nil, err
	}
	return fn(col)
}

func callOneStringSlice(args []any, fn func(string) ([]string, error)) (any, error) {
	col, err := callOneStringArg(args)
	if err != nil {
		return nil, err
	}
	return fn(col)
}

func callOneStringArg(args []any) (string, error) {
	if len(args) != 1 {
		return "", unsafe("expected exactly one column argument")
	}
	return asString(args[0])
}

func callOneInt(args []any) (int, error) {
	if len(args) != 1 {
		return 0, unsafe("expected exactly one integer argument")
	}
	f, err := asFloat(args[0])
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", unsafe("expected a string argument, got %T", v)
	}
	return s, nil
}

func asStrings(args []any) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		s, err := asString(a)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, unsafe("expected a numeric argument, got %T", v)
	}
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, unsafe("expected a boolean argument, got %T", v)
	}
	return b, nil
}

// callBuiltin implements the short safe-builtins whitelist: abs, round,
// min, max, sum, len, ternary.
func callBuiltin(name string, args []any) (any, error) {
	switch name {
	case "abs":
		f, err := oneFloat(args)
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return -f, nil
		}
		return f, nil
	case "round":
		f, err := oneFloat(args)
		if err != nil {
			return nil, err
		}
		return float64(int64(f + 0.5*sign(f))), nil
	case "min":
		return reduceNumeric(args, func(a, b float64) float64 {
			if a < b {
				return a
			}
			return b
		})
	case "max":
		return reduceNumeric(args, func(a, b float64) float64 {
			if a > b {
				return a
			}
			return b
		})
	case "sum":
		vals, err := argsAsFloats(args)
		if err != nil {
			return nil, err
		}
		var s float64
		for _, v := range vals {
			s += v
		}
		return s, nil
	case "len":
		if len(args) != 1 {
			return nil, unsafe("len takes exactly one argument")
		}
		switch v := args[0].(type) {
		case []string:
			return len(v), nil
		case []any:
			return len(v), nil
		case map[string]float64:
			return len(v), nil
		case string:
			return len(v), nil
		default:
			return nil, unsafe("len: unsupported argument type %T", v)
		}
	case "ternary":
		if len(args) != 3 {
			return nil, unsafe("ternary takes exactly (cond, ifTrue, ifFalse)")
		}
		cond, err := asBool(args[0])
		if err != nil {
			return nil, err
		}
		if cond {
			return args[1], nil
		}
		return args[2], nil
	default:
		return nil, unsafe("call to %q is not permitted", name)
	}
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func oneFloat(args []any) (float64, error) {
	if len(args) != 1 {
		return 0, unsafe("expected exactly one numeric argument")
	}
	return asFloat(args[0])
}

func argsAsFloats(args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := asFloat(a)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func reduceNumeric(args []any, pick func(a, b float64) float64) (float64, error) {
	vals, err := argsAsFloats(args)
	if err != nil || len(vals) == 0 {
		return 0, unsafe("expected at least one numeric argument")
	}
	out := vals[0]
	for _, v := range vals[1:] {
		out = pick(out, v)
	}
	return out, nil
}

// applyBinary implements the arithmetic, comparison and boolean operators
// the whitelist permits.
func applyBinary(op token.Token, l, r any) (any, error) {
	if op == token.LAND || op == token.LOR {
		lb, err := asBool(l)
		if err != nil {
			return nil, err
		}
		rb, err := asBool(r)
		if err != nil {
			return nil, err
		}
		if op == token.LAND {
			return lb && rb, nil
		}
		return lb || rb, nil
	}

	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return nil, unsafe("cannot compare string to %T", r)
		}
		switch op {
		case token.ADD:
			return ls + rs, nil
		case token.EQL:
			return ls == rs, nil
		case token.NEQ:
			return ls != rs, nil
		case token.LSS:
			return ls < rs, nil
		case token.GTR:
			return ls > rs, nil
		case token.LEQ:
			return ls <= rs, nil
		case token.GEQ:
			return ls >= rs, nil
		default:
			return nil, unsafe("operator %v is not permitted on strings", op)
		}
	}

	lf, err := asFloat(l)
	if err != nil {
		return nil, err
	}
	rf, err := asFloat(r)
	if err != nil {
		return nil, err
	}
	switch op {
	case token.ADD:
		return lf + rf, nil
	case token.SUB:
		return lf - rf, nil
	case token.MUL:
		return lf * rf, nil
	case token.QUO:
		if rf == 0 {
			return nil, runtimeErr("division by zero")
		}
		return lf / rf, nil
	case token.EQL:
		return lf == rf, nil
	case token.NEQ:
		return lf != rf, nil
	case token.LSS:
		return lf < rf, nil
	case token.GTR:
		return lf > rf, nil
	case token.LEQ:
		return lf <= rf, nil
	case token.GEQ:
		return lf >= rf, nil
	default:
		return nil, unsafe("operator %v is not permitted", op)
	}
}

func applyUnary(op token.Token, v any) (any, error) {
	switch op {
	case token.SUB:
		f, err := asFloat(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case token.NOT:
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	default:
		return nil, unsafe("unary operator %v is not permitted", op)
	}
}

// flatten converts a value produced by frame evaluation into the
// JSON-serializable shape spec.md §3/§4.4 requires results to have:
// tabular values become plain mappings, arrays become sequences, timestamps
// become ISO strings, tuples become sequences. A *Frame is never returned
// to the caller directly (the sandbox never leaks tabular objects); it is
// rendered as a {columns, rows} mapping instead.
func flatten(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *Frame:
		return flattenFrame(val)
	case map[string]float64:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out
	case map[string]map[string]float64:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			innerOut := make(map[string]any, len(inner))
			for ik, iv := range inner {
				innerOut[ik] = iv
			}
			out[k] = innerOut
		}
		return out
	case map[string]map[string]int:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			innerOut := make(map[string]any, len(inner))
			for ik, iv := range inner {
				innerOut[ik] = iv
			}
			out[k] = innerOut
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case [2]int:
		return []any{val[0], val[1]}
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}

func flattenFrame(f *Frame) any {
	rows := make([]any, 0, len(f.Rows))
	for _, row := range f.Rows {
		m := make(map[string]any, len(f.Columns))
		for i, c := range f.Columns {
			if i < len(row) {
				m[c] = row[i]
			}
		}
		rows = append(rows, m)
	}
	return map[string]any{"columns": f.Columns, "rows": rows}
}
