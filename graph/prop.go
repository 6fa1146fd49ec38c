package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Evaluate walks a property path over a result value. The boolean is false
// when a key is missing, an index is out of range, a function does not apply
// to the value, or the final value is nil.
func Evaluate(path []Segment, value any) (any, bool) {
	cur := value
	for _, seg := range path {
		if cur == nil {
			return nil, false
		}
		var ok bool
		switch seg.Kind {
		case SegmentKey:
			cur, ok = lookupKey(cur, seg.Key)
		case SegmentIndex:
			cur, ok = lookupIndex(cur, seg.Index)
		case SegmentFunc:
			fn, found := propFuncs[seg.Key]
			if !found {
				return nil, false
			}
			cur, ok = fn(cur, seg.Arg)
		}
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func lookupKey(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[key]
		return val, ok
	case map[string]string:
		val, ok := m[key]
		return val, ok
	}
	return nil, false
}

func lookupIndex(v any, idx int) (any, bool) {
	items, ok := asSlice(v)
	if !ok || idx < 0 || idx >= len(items) {
		return nil, false
	}
	return items[idx], true
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

// AsNumber converts the numeric kinds produced by JSON decoding and by Go
// agents to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Truthy reports whether a value counts as true for loop and condition
// checks. Empty arrays are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := AsNumber(v); ok {
		return n != 0
	}
	if items, ok := asSlice(v); ok {
		return len(items) > 0
	}
	return true
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

type propFunc func(value any, arg string) (any, bool)

var codeBlockPattern = regexp.MustCompile("(?s)\n```[a-zA-Z]*(.*?)\n```")

var propFuncs = map[string]propFunc{
	"length": func(v any, _ string) (any, bool) {
		items, ok := asSlice(v)
		if !ok {
			return nil, false
		}
		return len(items), true
	},
	"flat": func(v any, _ string) (any, bool) {
		items, ok := asSlice(v)
		if !ok {
			return nil, false
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			if inner, ok := asSlice(item); ok {
				out = append(out, inner...)
				continue
			}
			out = append(out, item)
		}
		return out, true
	},
	"isEmpty": func(v any, _ string) (any, bool) {
		items, ok := asSlice(v)
		if !ok {
			return nil, false
		}
		return len(items) == 0, true
	},
	"join": func(v any, sep string) (any, bool) {
		items, ok := asSlice(v)
		if !ok {
			return nil, false
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = formatScalar(item)
		}
		return strings.Join(parts, sep), true
	},
	"toJSON": func(v any, _ string) (any, bool) {
		_, isSlice := asSlice(v)
		_, isMap := asMap(v)
		if !isSlice && !isMap {
			return nil, false
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(data), true
	},
	"keys": func(v any, _ string) (any, bool) {
		m, ok := asMap(v)
		if !ok {
			return nil, false
		}
		keys := sortedKeys(m)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, true
	},
	"values": func(v any, _ string) (any, bool) {
		m, ok := asMap(v)
		if !ok {
			return nil, false
		}
		keys := sortedKeys(m)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = m[k]
		}
		return out, true
	},
	"codeBlock": func(v any, _ string) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		m := codeBlockPattern.FindStringSubmatch("\n" + s)
		if m == nil {
			return nil, false
		}
		return m[1], true
	},
	"jsonParse": func(v any, _ string) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, false
		}
		return out, true
	},
	"toNumber": func(v any, _ string) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	},
	"trim": stringFunc(strings.TrimSpace),
	"toLowerCase": stringFunc(strings.ToLower),
	"toUpperCase": stringFunc(strings.ToUpper),
	"toString": func(v any, _ string) (any, bool) {
		if _, ok := AsNumber(v); !ok {
			return nil, false
		}
		return formatScalar(v), true
	},
	"add": func(v any, arg string) (any, bool) {
		delta, err := strconv.Atoi(arg)
		if err != nil {
			return nil, false
		}
		if i, ok := v.(int); ok {
			return i + delta, true
		}
		n, ok := AsNumber(v)
		if !ok {
			return nil, false
		}
		return n + float64(delta), true
	},
	"not": func(v any, _ string) (any, bool) {
		b, ok := v.(bool)
		if !ok {
			return nil, false
		}
		return !b, true
	},
}

func stringFunc(fn func(string) string) propFunc {
	return func(v any, _ string) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return fn(s), true
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
