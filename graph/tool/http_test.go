package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTool_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "graph" {
			t.Errorf("query q = %q", got)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("X-Trace = %q", got)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"items":[1,2]}`)
	}))
	defer srv.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"url":     srv.URL + "/search",
		"query":   map[string]interface{}{"q": "graph"},
		"headers": map[string]interface{}{"X-Trace": "abc"},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out["status_code"] != 200 {
		t.Errorf("status_code = %v", out["status_code"])
	}
	decoded, ok := out["json"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected decoded json, got %#v", out["json"])
	}
	if items, _ := decoded["items"].([]interface{}); len(items) != 2 {
		t.Errorf("items = %v", decoded["items"])
	}
}

func TestHTTPTool_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created "+body["name"].(string))
	}))
	defer srv.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]interface{}{"name": "node"},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out["status_code"] != http.StatusCreated || out["body"] != "created node" {
		t.Errorf("unexpected result %v", out)
	}
	if _, ok := out["json"]; ok {
		t.Error("plain-text response should not be decoded")
	}
}

func TestHTTPTool_Errors(t *testing.T) {
	h := NewHTTPTool()
	cases := []struct {
		name  string
		input map[string]interface{}
		want  string
	}{
		{"missing url", map[string]interface{}{}, "url parameter required"},
		{"bad method", map[string]interface{}{"url": "http://example.com", "method": "TRACE"}, "unsupported HTTP method"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := h.Call(context.Background(), c.input)
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Errorf("expected error containing %q, got %v", c.want, err)
			}
		})
	}
}

func TestHTTPTool_LimitsAndCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = io.WriteString(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	out, err := NewHTTPTool(WithMaxBodyBytes(10)).Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if body := out["body"].(string); len(body) != 10 {
		t.Errorf("body length = %d, want 10", len(body))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewHTTPTool().Call(ctx, map[string]interface{}{"url": srv.URL + "/slow"}); err == nil {
		t.Error("expected error from cancelled request")
	}
}

func TestFuncAndMockTool(t *testing.T) {
	f := Func("double", func(_ context.Context, in map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"n": in["n"].(float64) * 2}, nil
	})
	out, err := f.Call(context.Background(), map[string]interface{}{"n": 2.0})
	if err != nil || out["n"] != 4.0 || f.Name() != "double" {
		t.Errorf("Func tool: out=%v err=%v name=%q", out, err, f.Name())
	}

	m := &MockTool{ToolName: "m", Responses: []map[string]interface{}{{"a": 1}, {"b": 2}}}
	first, _ := m.Call(context.Background(), map[string]interface{}{"x": 1})
	second, _ := m.Call(context.Background(), nil)
	third, _ := m.Call(context.Background(), nil)
	if first["a"] != 1 || second["b"] != 2 || third["b"] != 2 {
		t.Errorf("responses: %v %v %v", first, second, third)
	}
	if len(m.Inputs()) != 3 || m.Inputs()[0]["x"] != 1 {
		t.Errorf("inputs = %v", m.Inputs())
	}
}
