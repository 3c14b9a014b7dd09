package filter

import "strings"

// Evaluate reports whether metadata satisfies f. It is pure and
// reentrant: the same *Filter may be evaluated concurrently by many
// queries over different metadata maps (spec §4.3).
func (f *Filter) Evaluate(metadata map[string]any) bool {
	return evalExpr(f.Root, metadata)
}

func evalExpr(e Expr, metadata map[string]any) bool {
	switch n := e.(type) {
	case *OrExpr:
		return evalExpr(n.Left, metadata) || evalExpr(n.Right, metadata)
	case *AndExpr:
		return evalExpr(n.Left, metadata) && evalExpr(n.Right, metadata)
	case *NotExpr:
		return !evalExpr(n.Inner, metadata)
	case *Comparison:
		return evalComparison(n, metadata)
	default:
		return false
	}
}

// resolve walks a dotted field path into nested maps/arrays. A path
// segment indexes a map by key, or an array by integer position.
// Missing fields (any segment that doesn't resolve) report ok=false,
// which every comparison operator treats as "false" (spec §4.3's
// three-valued logic collapsed to false).
func resolve(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, ok := parseIndex(seg)
			if !ok || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func evalComparison(c *Comparison, metadata map[string]any) bool {
	fieldVal, ok := resolve(metadata, c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return valuesEqual(fieldVal, c.Value)
	case OpNe:
		return !valuesEqual(fieldVal, c.Value)
	case OpLt, OpLe, OpGt, OpGe:
		return compareOrdered(fieldVal, c.Value, c.Op)
	case OpContains:
		return containsOp(fieldVal, c.Value)
	case OpIn:
		return inOp(fieldVal, c.Value)
	case OpNotIn:
		return !inOp(fieldVal, c.Value)
	case OpStartsWith:
		return affixOp(fieldVal, c.Value, true)
	case OpEndsWith:
		return affixOp(fieldVal, c.Value, false)
	default:
		return false
	}
}

// asFloat coerces the scalar numeric types a metadata map may hold
// (float64 from JSON decoding, or a Go int/int64 set directly by a
// caller building metadata in-process) to float64 for comparison.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valuesEqual(fieldVal any, val Value) bool {
	if fv, ok := asFloat(fieldVal); ok {
		if vv, ok := asFloat(val); ok {
			return fv == vv
		}
		return false
	}
	switch fv := fieldVal.(type) {
	case string:
		vv, ok := val.(string)
		return ok && fv == vv
	case bool:
		vv, ok := val.(bool)
		return ok && fv == vv
	default:
		return false
	}
}

func compareOrdered(fieldVal any, val Value, op Op) bool {
	if fv, ok := asFloat(fieldVal); ok {
		if vv, ok := asFloat(val); ok {
			return applyOrder(cmpFloat(fv, vv), op)
		}
		return false
	}
	if fv, ok := fieldVal.(string); ok {
		if vv, ok := val.(string); ok {
			return applyOrder(strings.Compare(fv, vv), op)
		}
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyOrder(cmp int, op Op) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

func containsOp(fieldVal any, val Value) bool {
	switch fv := fieldVal.(type) {
	case string:
		vv, ok := val.(string)
		return ok && strings.Contains(fv, vv)
	case []any:
		for _, item := range fv {
			if valuesEqual(item, val) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func inOp(fieldVal any, val Value) bool {
	list, ok := val.([]Value)
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(fieldVal, item) {
			return true
		}
	}
	return false
}

func affixOp(fieldVal any, val Value, prefix bool) bool {
	fv, ok := fieldVal.(string)
	if !ok {
		return false
	}
	vv, ok := val.(string)
	if !ok {
		return false
	}
	if prefix {
		return strings.HasPrefix(fv, vv)
	}
	return strings.HasSuffix(fv, vv)
}
