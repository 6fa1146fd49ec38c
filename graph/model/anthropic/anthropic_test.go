package anthropic

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

const messageJSON = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-haiku-latest",
	"content": [{"type": "text", "text": "Paris"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 2}
}`

const toolUseJSON = `{
	"id": "msg_2",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-haiku-latest",
	"content": [
		{"type": "text", "text": "Searching."},
		{"type": "tool_use", "id": "toolu_1", "name": "search", "input": {"query": "go"}}
	],
	"stop_reason": "tool_use",
	"usage": {"input_tokens": 30, "output_tokens": 9}
}`

func newTestModel(t *testing.T, handler http.HandlerFunc) *ChatModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewChatModel("test-key", "", WithBaseURL(srv.URL), WithMaxTokens(256),
		WithRetryPolicy(model.RetryPolicy{MaxRetries: 2, Delay: time.Millisecond}))
}

func TestChatModel_Chat(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("X-Api-Key = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageJSON)
	})

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "one word"},
		{Role: model.RoleUser, Content: "Capital of France?"},
		{Role: model.RoleAssistant, Content: "Paris"},
		{Role: model.RoleUser, Content: "Again?"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Paris" || out.Model != DefaultModel {
		t.Errorf("unexpected output %+v", out)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", out.Usage)
	}

	if body["max_tokens"] != 256.0 {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected system prompt split out, got %d messages", len(msgs))
	}
	if second, _ := msgs[1].(map[string]any); second["role"] != "assistant" {
		t.Errorf("second message = %v", second)
	}
	if body["system"] == nil {
		t.Error("expected system prompt in request")
	}
}

func TestChatModel_ToolUse(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolUseJSON)
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
	if out.Text != "Searching." {
		t.Errorf("text = %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Input["query"] != "go" {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}
}

func TestChatModel_Overloaded(t *testing.T) {
	var calls atomic.Int32
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(529)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
			return
		}
		_, _ = io.WriteString(w, messageJSON)
	})

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Paris" || calls.Load() != 2 {
		t.Errorf("text=%q calls=%d", out.Text, calls.Load())
	}
}

func TestChatModel_AuthError(t *testing.T) {
	var calls atomic.Int32
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}
