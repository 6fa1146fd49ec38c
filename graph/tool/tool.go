// Package tool defines side-effecting operations that agents can call.
package tool

import "context"

// Tool is a named operation taking and returning JSON-like maps. The
// agents package exposes any Tool as a graph agent.
type Tool interface {
	Name() string
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Func adapts a function to Tool.
func Func(name string, fn func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)) Tool {
	return funcTool{name: name, fn: fn}
}

type funcTool struct {
	name string
	fn   func(context.Context, map[string]interface{}) (map[string]interface{}, error)
}

func (f funcTool) Name() string { return f.name }

func (f funcTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.fn(ctx, input)
}
