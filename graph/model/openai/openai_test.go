package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/agentgraph-go/graph/model"
)

const completionJSON = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{
		"index": 0,
		"finish_reason": "stop",
		"message": {"role": "assistant", "content": "Paris"}
	}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

const toolCallJSON = `{
	"id": "chatcmpl-2",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{
		"index": 0,
		"finish_reason": "tool_calls",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "search", "arguments": "{\"query\":\"go\"}"}
			}]
		}
	}],
	"usage": {"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28}
}`

func newTestModel(t *testing.T, handler http.HandlerFunc) *ChatModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewChatModel("test-key", "", WithBaseURL(srv.URL),
		WithRetryPolicy(model.RetryPolicy{MaxRetries: 2, Delay: time.Millisecond}))
}

func TestChatModel_Chat(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	})

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "one word"},
		{Role: model.RoleUser, Content: "Capital of France?"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Paris" || out.Model != "gpt-4o-mini" {
		t.Errorf("unexpected output %+v", out)
	}
	if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", out.Usage)
	}

	if body["model"] != DefaultModel {
		t.Errorf("request model = %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in request, got %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v", first)
	}
}

func TestChatModel_ToolCalls(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolCallJSON)
	})

	out, err := m.Chat(context.Background(),
		[]model.Message{{Role: model.RoleUser, Content: "find go"}},
		[]model.ToolSpec{{Name: "search", Description: "web search", Schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
		}}},
	)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search" || out.ToolCalls[0].Input["query"] != "go" {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Errorf("expected 1 tool in request, got %v", body["tools"])
	}
}

func TestChatModel_Retry(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
				return
			}
			_, _ = io.WriteString(w, completionJSON)
		})

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if out.Text != "Paris" || calls.Load() != 2 {
			t.Errorf("text=%q calls=%d", out.Text, calls.Load())
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		})

		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil); err == nil {
			t.Fatal("expected error")
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})
}
