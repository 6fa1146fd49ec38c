package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentgraph-go/graph"
)

const sumJSON = `{
  "version": 0.5,
  "concurrency": 2,
  "nodes": {
    "a": {"value": 2},
    "b": {"value": 3},
    "sum": {"agent": "add", "inputs": [":a", ":b"], "params": {"scale": 1}, "isResult": true}
  }
}`

const sumYAML = `
version: 0.5
concurrency: 2
nodes:
  a:
    value: 2
  b:
    value: 3
  sum:
    agent: add
    inputs: [":a", ":b"]
    params:
      scale: 1
    isResult: true
`

const sumHCL = `
version     = 0.5
concurrency = 2

node "a" {
  value = 2
}

node "b" {
  value = 3
}

node "sum" {
  agent     = "add"
  inputs    = [":a", ":b"]
  params    = { scale = 1 }
  is_result = true
}
`

func assertSumGraph(t *testing.T, data *graph.GraphData) {
	t.Helper()
	assert.Equal(t, 0.5, data.Version)
	assert.Equal(t, 2, data.Concurrency)
	require.Len(t, data.Nodes, 3)
	assert.Equal(t, float64(2), data.Nodes["a"].Value)
	assert.Equal(t, float64(3), data.Nodes["b"].Value)

	sum := data.Nodes["sum"]
	assert.Equal(t, "add", sum.Agent)
	assert.Equal(t, []any{":a", ":b"}, sum.Inputs)
	assert.Equal(t, map[string]any{"scale": float64(1)}, sum.Params)
	assert.True(t, sum.IsResult)
}

func TestLoadFormats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		data, err := LoadJSON([]byte(sumJSON))
		require.NoError(t, err)
		assertSumGraph(t, data)
	})
	t.Run("yaml", func(t *testing.T) {
		data, err := LoadYAML([]byte(sumYAML))
		require.NoError(t, err)
		assertSumGraph(t, data)
	})
	t.Run("hcl", func(t *testing.T) {
		data, err := LoadHCL([]byte(sumHCL), "sum.hcl")
		require.NoError(t, err)
		assertSumGraph(t, data)
	})
}

func TestLoadHCL_NestedLoopFork(t *testing.T) {
	src := `
loop {
  count = 3
}

node "items" {
  value = ["x", "y"]
}

node "counter" {
  value  = 0
  update = ":next"
}

node "next" {
  agent  = "counter"
  inputs = [":counter"]
}

node "inner" {
  agent     = "nestedAgent"
  inputs    = { items = ":items" }
  is_result = true

  graph {
    node "items" {
      value = []
    }
    node "out" {
      agent     = "echo"
      inputs    = [":items"]
      is_result = true
      if        = ":items"
    }
  }
}

node "worker" {
  agent   = "echo"
  inputs  = [":items"]
  retry   = 2
  timeout = 500
  outputs = { first = "0" }

  fork {
    injection_to = "items"
  }
}
`
	data, err := LoadHCL([]byte(src), "loop.hcl")
	require.Error(t, err, "inputs given as an object must be rejected")
	assert.Contains(t, err.Error(), "inputs must be a list")

	fixed := []byte(replaceOnce(src, `inputs    = { items = ":items" }`, `inputs    = [":items"]`))
	data, err = LoadHCL(fixed, "loop.hcl")
	require.NoError(t, err)

	require.NotNil(t, data.Loop)
	assert.Equal(t, 3, data.Loop.Count)
	assert.Equal(t, ":next", data.Nodes["counter"].Update)
	assert.Equal(t, []any{"x", "y"}, data.Nodes["items"].Value)

	inner := data.Nodes["inner"]
	require.NotNil(t, inner.Graph)
	assert.Equal(t, []any{}, inner.Graph.Nodes["items"].Value)
	assert.Equal(t, ":items", inner.Graph.Nodes["out"].If)

	worker := data.Nodes["worker"]
	assert.Equal(t, 2, worker.Retry)
	assert.Equal(t, 500, worker.Timeout)
	assert.Equal(t, map[string]string{"first": "0"}, worker.Outputs)
	require.NotNil(t, worker.Fork)
	assert.Equal(t, "items", worker.Fork.InjectionTo)
}

func replaceOnce(s, old, repl string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + repl + s[i+len(old):]
		}
	}
	return s
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		load func() error
		want string
	}{
		{"json syntax", func() error { _, err := LoadJSON([]byte(`{"nodes":`)); return err }, "invalid graph JSON"},
		{"json no nodes", func() error { _, err := LoadJSON([]byte(`{"nodes":{}}`)); return err }, "no nodes"},
		{"json null node", func() error { _, err := LoadJSON([]byte(`{"nodes":{"a":null}}`)); return err }, `node "a" is empty`},
		{"yaml syntax", func() error { _, err := LoadYAML([]byte("nodes: [a")); return err }, "invalid graph YAML"},
		{"hcl syntax", func() error { _, err := LoadHCL([]byte(`node "a" {`), "bad.hcl"); return err }, "failed to parse HCL file bad.hcl"},
		{"hcl unknown attr", func() error { _, err := LoadHCL([]byte("node \"a\" {\n  colour = 1\n}\n"), "bad.hcl"); return err }, "failed to decode HCL file"},
		{"hcl duplicate", func() error {
			_, err := LoadHCL([]byte("node \"a\" {\n  value = 1\n}\nnode \"a\" {\n  value = 2\n}\n"), "dup.hcl")
			return err
		}, `duplicate node "a"`},
		{"hcl params not object", func() error {
			_, err := LoadHCL([]byte("node \"a\" {\n  agent  = \"echo\"\n  params = [1]\n}\n"), "p.hcl")
			return err
		}, "params must be an object"},
		{"hcl variable", func() error {
			_, err := LoadHCL([]byte("node \"a\" {\n  value = var.x\n}\n"), "v.hcl")
			return err
		}, "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"sum.json": sumJSON,
		"sum.yaml": sumYAML,
		"sum.yml":  sumYAML,
		"sum.hcl":  sumHCL,
	}
	for name, src := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
		t.Run(name, func(t *testing.T) {
			data, err := LoadFile(path)
			require.NoError(t, err)
			assertSumGraph(t, data)
		})
	}

	t.Run("unknown extension", func(t *testing.T) {
		path := filepath.Join(dir, "sum.toml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
		_, err := LoadFile(path)
		require.ErrorContains(t, err, "unsupported graph file extension")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "missing.json"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoadedGraphRuns(t *testing.T) {
	data, err := LoadHCL([]byte(sumHCL), "sum.hcl")
	require.NoError(t, err)

	agents := graph.AgentTable{
		"add": func(ctx context.Context, ac *graph.AgentContext) (any, error) {
			total := 0.0
			for _, in := range ac.Inputs {
				total += in.(float64)
			}
			return total, nil
		},
	}
	g, err := graph.NewGraph(data, agents)
	require.NoError(t, err)

	results, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(5), results["sum"])
}
