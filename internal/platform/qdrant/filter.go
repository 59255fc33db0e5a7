package qdrant

import (
	"fmt"
	"sort"
)

// buildFilter translates a conjunction of exact-match payload predicates to
// the Qdrant filter shape. Scalar values become match conditions; slice
// values become any-of conditions. Keys are visited in sorted order so the
// request body is deterministic.
func buildFilter(filter map[string]any) (map[string]any, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	must := make([]any, 0, len(keys))
	for _, key := range keys {
		switch v := filter[key].(type) {
		case string, bool, int, int64, float64:
			must = append(must, matchCondition(key, v))
		case []string:
			if len(v) == 0 {
				return nil, opErr(
					"filter_translate",
					OperationErrorValidation,
					fmt.Sprintf("field %q has an empty any-of list", key),
					nil,
				)
			}
			values := make([]any, 0, len(v))
			for _, s := range v {
				values = append(values, s)
			}
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"any": values},
			})
		default:
			return nil, opErr(
				"filter_translate",
				OperationErrorValidation,
				fmt.Sprintf("field %q expects a scalar or string slice, got %T", key, v),
				nil,
			)
		}
	}
	return map[string]any{"must": must}, nil
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}
