package intent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders a nested map as a deterministic, flattened string:
// keys sorted alphabetically at every level, dotted-path flattening of
// nested maps, bracket-indexed flattening of lists, nil values dropped.
// Grounded on original_source's encoding.py canonicalize_dict; used to
// derive the "params_length" bucket fed into the data slot template.
func Canonicalize(data map[string]any) string {
	pairs := flatten(data, "")
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, "; ")
}

type kv struct{ key, value string }

func flatten(obj any, prefix string) []kv {
	switch v := obj.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]kv, 0, len(v))
		for _, k := range keys {
			val := v[k]
			if val == nil {
				continue
			}
			newKey := k
			if prefix != "" {
				newKey = prefix + "." + k
			}
			out = append(out, flatten(val, newKey)...)
		}
		return out
	case []any:
		out := make([]kv, 0, len(v))
		for i, item := range v {
			newKey := fmt.Sprintf("%s[%d]", prefix, i)
			out = append(out, flatten(item, newKey)...)
		}
		return out
	default:
		return []kv{{key: prefix, value: leafString(v)}}
	}
}

func leafString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
