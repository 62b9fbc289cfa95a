package docstore

import (
	"sort"
	"strings"
)

// sortChildren orders by key, or by the named child field with absent values
// first and ties broken by key.
func sortChildren(children []Snapshot, q Query) {
	sort.SliceStable(children, func(i, j int) bool {
		if q.OrderByChild != "" {
			c := compareValues(fieldOf(children[i], q.OrderByChild), fieldOf(children[j], q.OrderByChild))
			if c != 0 {
				return c < 0
			}
		}
		return children[i].Key < children[j].Key
	})
}

func fieldOf(s Snapshot, field string) any {
	if s.Value == nil {
		return nil
	}
	return s.Value[field]
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, float32, int, int32, int64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
