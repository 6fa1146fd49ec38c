// Package agents provides ready-made agents for graph.AgentTable: data
// shaping helpers, HTTP fetch, LLM chat, and adapters for tool.Tool.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/tool"
)

// Builtins returns a fresh table with the builtin agents. Callers may add
// or replace entries.
//
//	agents := agents.Builtins()
//	agents["ask"] = agents.ChatAgent(m, tracker)
func Builtins() graph.AgentTable {
	return graph.AgentTable{
		"echo":           Echo,
		"bypass":         Bypass,
		"copy":           Copy,
		"add":            Add,
		"counter":        Counter,
		"push":           Push,
		"join":           Join,
		"stringTemplate": StringTemplate,
		"jsonParse":      JSONParse,
		"propertyFilter": PropertyFilter,
		"sleep":          Sleep,
		"forkIndex":      ForkIndex,
		"fetch":          ToolAgent(tool.NewHTTPTool()),

		graph.NestedAgentID: graph.NestedAgent,
		graph.MapAgentID:    graph.MapAgent,
	}
}

// Echo returns the node's params.
func Echo(_ context.Context, ac *graph.AgentContext) (any, error) {
	return ac.Params, nil
}

// Bypass returns its only input, or all inputs as an array.
func Bypass(_ context.Context, ac *graph.AgentContext) (any, error) {
	switch len(ac.Inputs) {
	case 0:
		return nil, nil
	case 1:
		return ac.Inputs[0], nil
	default:
		return append([]any{}, ac.Inputs...), nil
	}
}

// Copy returns the inputs as a new array.
func Copy(_ context.Context, ac *graph.AgentContext) (any, error) {
	return append([]any{}, ac.Inputs...), nil
}

// Add returns the numeric sum of the inputs. An array input adds its items.
func Add(_ context.Context, ac *graph.AgentContext) (any, error) {
	sum := 0.0
	for i, in := range flatten(ac.Inputs) {
		n, ok := graph.AsNumber(in)
		if !ok {
			return nil, fmt.Errorf("add: input %d is not a number: %v", i, in)
		}
		sum += n
	}
	return sum, nil
}

// Counter returns its first input plus params.step. A missing input counts
// from zero and step defaults to 1.
func Counter(_ context.Context, ac *graph.AgentContext) (any, error) {
	n := 0.0
	if len(ac.Inputs) > 0 && ac.Inputs[0] != nil {
		v, ok := graph.AsNumber(ac.Inputs[0])
		if !ok {
			return nil, fmt.Errorf("counter: input is not a number: %v", ac.Inputs[0])
		}
		n = v
	}
	step := 1.0
	if v, ok := ac.Params["step"]; ok {
		s, ok := graph.AsNumber(v)
		if !ok {
			return nil, fmt.Errorf("counter: step is not a number: %v", v)
		}
		step = s
	}
	return n + step, nil
}

// Push returns a copy of the array in the first input with the remaining
// inputs appended. A nil array starts empty.
func Push(_ context.Context, ac *graph.AgentContext) (any, error) {
	if len(ac.Inputs) == 0 {
		return nil, errors.New("push: missing array input")
	}
	var out []any
	switch arr := ac.Inputs[0].(type) {
	case nil:
	case []any:
		out = append(out, arr...)
	default:
		return nil, fmt.Errorf("push: first input is not an array: %T", ac.Inputs[0])
	}
	out = append(out, ac.Inputs[1:]...)
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// Join concatenates the inputs with params.separator. Array inputs are
// joined item by item.
func Join(_ context.Context, ac *graph.AgentContext) (any, error) {
	sep, _ := ac.Params["separator"].(string)
	items := flatten(ac.Inputs)
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = text(v)
	}
	return strings.Join(parts, sep), nil
}

// StringTemplate fills ${0}, ${1}, ... in params.template with the inputs.
// A template given as an array or object is filled recursively.
func StringTemplate(_ context.Context, ac *graph.AgentContext) (any, error) {
	tmpl, ok := ac.Params["template"]
	if !ok {
		return nil, errors.New("stringTemplate: missing template param")
	}
	return fillTemplate(tmpl, ac.Inputs), nil
}

func fillTemplate(tmpl any, inputs []any) any {
	switch t := tmpl.(type) {
	case string:
		return expand(t, inputs)
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = fillTemplate(v, inputs)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = fillTemplate(v, inputs)
		}
		return out
	default:
		return tmpl
	}
}

// expand replaces ${i} placeholders. A template that is exactly one
// placeholder yields the input itself, keeping its type.
func expand(tmpl string, inputs []any) any {
	for i, in := range inputs {
		if tmpl == "${"+strconv.Itoa(i)+"}" {
			return in
		}
	}
	pairs := make([]string, 0, 2*len(inputs))
	for i, in := range inputs {
		pairs = append(pairs, "${"+strconv.Itoa(i)+"}", text(in))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// JSONParse decodes its first input, a JSON string.
func JSONParse(_ context.Context, ac *graph.AgentContext) (any, error) {
	if len(ac.Inputs) == 0 {
		return nil, errors.New("jsonParse: missing input")
	}
	s, ok := ac.Inputs[0].(string)
	if !ok {
		return nil, fmt.Errorf("jsonParse: input is not a string: %T", ac.Inputs[0])
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("jsonParse: %w", err)
	}
	return out, nil
}

// PropertyFilter keeps the keys named in params.include, or drops those in
// params.exclude, from an object input. An array of objects is filtered item
// by item.
func PropertyFilter(_ context.Context, ac *graph.AgentContext) (any, error) {
	if len(ac.Inputs) == 0 {
		return nil, errors.New("propertyFilter: missing input")
	}
	include := stringSet(ac.Params["include"])
	exclude := stringSet(ac.Params["exclude"])
	return filterValue(ac.Inputs[0], include, exclude)
}

func filterValue(v any, include, exclude map[string]bool) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if include != nil && !include[k] {
				continue
			}
			if exclude[k] {
				continue
			}
			out[k] = val
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			f, err := filterValue(item, include, exclude)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("propertyFilter: input is not an object: %T", v)
	}
}

// Sleep waits params.duration milliseconds, then behaves like Bypass.
func Sleep(ctx context.Context, ac *graph.AgentContext) (any, error) {
	ms, _ := graph.AsNumber(ac.Params["duration"])
	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return Bypass(ctx, ac)
}

// ForkIndex returns the index of the fork running the node, or nil outside
// a map.
func ForkIndex(_ context.Context, ac *graph.AgentContext) (any, error) {
	if ac.ForkIndex == nil {
		return nil, nil
	}
	return *ac.ForkIndex, nil
}

func flatten(inputs []any) []any {
	var out []any
	for _, in := range inputs {
		if arr, ok := in.([]any); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, in)
	}
	return out
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func stringSet(v any) map[string]bool {
	var names []string
	switch t := v.(type) {
	case []string:
		names = t
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok {
				names = append(names, s)
			}
		}
	case string:
		names = []string{t}
	default:
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
