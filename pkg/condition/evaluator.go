// Package condition provides the stateless comparison semantics used by
// condition nodes: dotted-path lookup against the triggering payload plus a
// small closed operator set.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Operators supported by condition nodes. Anything else evaluates to false.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "not_equals"
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorContains    = "contains"
)

// Evaluate compares left against right using the given operator. The function
// is fail-closed: unrecognized operators and non-numeric operands under
// numeric operators yield false rather than an error, so a malformed condition
// never turns into a run failure.
func Evaluate(operator string, left, right any) bool {
	switch operator {
	case OperatorEquals:
		return equals(left, right)
	case OperatorNotEquals:
		return !equals(left, right)
	case OperatorGreaterThan:
		l, lok := toNumber(left)
		r, rok := toNumber(right)

		return lok && rok && l > r
	case OperatorLessThan:
		l, lok := toNumber(left)
		r, rok := toNumber(right)

		return lok && rok && l < r
	case OperatorContains:
		return contains(left, right)
	default:
		return false
	}
}

// Lookup resolves a dotted field path (e.g. "order.total") against a nested
// payload. The second return value is false when any segment is missing or a
// non-map value is traversed into.
func Lookup(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = payload

	for _, segment := range strings.Split(path, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// equals compares numerically when both sides coerce to numbers, falling back
// to string comparison of the rendered values.
func equals(left, right any) bool {
	l, lok := toNumber(left)
	r, rok := toNumber(right)

	if lok && rok {
		return l == r
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

// contains is substring match for strings and membership match for arrays.
func contains(left, right any) bool {
	switch haystack := left.(type) {
	case string:
		return strings.Contains(haystack, fmt.Sprintf("%v", right))
	case []any:
		for _, item := range haystack {
			if equals(item, right) {
				return true
			}
		}

		return false
	case []string:
		needle := fmt.Sprintf("%v", right)
		for _, item := range haystack {
			if item == needle {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)

		return parsed, err == nil
	case bool:
		if v {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}
