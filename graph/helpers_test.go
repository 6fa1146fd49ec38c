package graph

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
)

// testAgents returns the small agent set shared by the graph tests.
func testAgents() AgentTable {
	return AgentTable{
		"add": func(_ context.Context, ac *AgentContext) (any, error) {
			sum := 0.0
			for _, in := range ac.Inputs {
				n, ok := AsNumber(in)
				if !ok {
					return nil, errors.New("add: non-numeric input")
				}
				sum += n
			}
			return sum, nil
		},
		"echo": func(_ context.Context, ac *AgentContext) (any, error) {
			if v, ok := ac.Params["value"]; ok {
				return v, nil
			}
			if len(ac.Inputs) > 0 {
				return ac.Inputs[0], nil
			}
			return nil, nil
		},
		"inputs": func(_ context.Context, ac *AgentContext) (any, error) {
			return ac.Inputs, nil
		},
		"upper": func(_ context.Context, ac *AgentContext) (any, error) {
			s, _ := ac.Inputs[0].(string)
			return strings.ToUpper(s), nil
		},
		"fail": func(context.Context, *AgentContext) (any, error) {
			return nil, errors.New("boom")
		},
		"panic": func(context.Context, *AgentContext) (any, error) {
			panic("kaboom")
		},
		"block": func(ctx context.Context, _ *AgentContext) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// flakyAgent fails the first n calls.
func flakyAgent(n int32, calls *atomic.Int32) AgentFunc {
	return func(context.Context, *AgentContext) (any, error) {
		if calls.Add(1) <= n {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}
}

// sleepAgent sleeps for d, honoring cancellation, then echoes its first input.
func sleepAgent(d time.Duration) AgentFunc {
	return func(ctx context.Context, ac *AgentContext) (any, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if len(ac.Inputs) > 0 {
			return ac.Inputs[0], nil
		}
		return "slept", nil
	}
}

func withAgents(base AgentTable, extra AgentTable) AgentTable {
	out := AgentTable{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func mustGraph(t interface {
	Helper()
	Fatalf(string, ...any)
}, data *GraphData, agents AgentTable, opts ...Option) *Graph {
	t.Helper()
	g, err := NewGraph(data, agents, opts...)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	return g
}

func runGraph(t interface {
	Helper()
	Fatalf(string, ...any)
}, g *Graph) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := g.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return results
}
