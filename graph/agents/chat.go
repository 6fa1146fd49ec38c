package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/model"
)

// ChatAgent calls m once per attempt. Params:
//
//	system   system prompt
//	prompt   user prompt; ${0}, ${1}, ... are replaced with the inputs
//
// Without a prompt the inputs are joined into the user message. An input
// that is an array of {role, content} objects is sent as prior turns.
//
// The result is {text, model, usage: {inputTokens, outputTokens}}, plus
// toolCalls when the model asked for any. tracker may be nil.
func ChatAgent(m model.ChatModel, tracker *model.CostTracker) graph.AgentFunc {
	return func(ctx context.Context, ac *graph.AgentContext) (any, error) {
		messages, err := buildMessages(ac)
		if err != nil {
			return nil, err
		}

		out, err := m.Chat(ctx, messages, nil)
		if err != nil {
			return nil, err
		}
		if tracker != nil {
			tracker.Record(ac.RunID(), ac.NodeID, out.Model, out.Usage)
		}

		result := map[string]any{
			"text":  out.Text,
			"model": out.Model,
			"usage": map[string]any{
				"inputTokens":  float64(out.Usage.InputTokens),
				"outputTokens": float64(out.Usage.OutputTokens),
			},
		}
		if len(out.ToolCalls) > 0 {
			calls := make([]any, len(out.ToolCalls))
			for i, c := range out.ToolCalls {
				calls[i] = map[string]any{"name": c.Name, "input": c.Input}
			}
			result["toolCalls"] = calls
		}
		return result, nil
	}
}

func buildMessages(ac *graph.AgentContext) ([]model.Message, error) {
	var messages []model.Message
	if s, _ := ac.Params["system"].(string); s != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: s})
	}

	var loose []any
	for _, in := range ac.Inputs {
		if turns, ok := conversation(in); ok {
			messages = append(messages, turns...)
			continue
		}
		loose = append(loose, in)
	}

	var user string
	if p, _ := ac.Params["prompt"].(string); p != "" {
		user = text(expand(p, ac.Inputs))
	} else {
		parts := make([]string, 0, len(loose))
		for _, in := range loose {
			if s := text(in); s != "" {
				parts = append(parts, s)
			}
		}
		user = strings.Join(parts, "\n")
	}
	if user != "" {
		messages = append(messages, model.Message{Role: model.RoleUser, Content: user})
	}

	if len(messages) == 0 || messages[len(messages)-1].Role == model.RoleSystem {
		return nil, errors.New("chat: no user message; set params.prompt or pass inputs")
	}
	return messages, nil
}

// conversation reports whether v is a non-empty array of {role, content}
// objects and converts it.
func conversation(v any) ([]model.Message, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	out := make([]model.Message, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		role, _ := m["role"].(string)
		content, ok := m["content"].(string)
		if !ok {
			return nil, false
		}
		switch role {
		case model.RoleSystem, model.RoleUser, model.RoleAssistant:
		default:
			return nil, false
		}
		out = append(out, model.Message{Role: role, Content: content})
	}
	return out, true
}

// ModelAgents registers one ChatAgent per named model, for example
// {"openai": ..., "claude": ...}. Every agent shares tracker.
func ModelAgents(table graph.AgentTable, models map[string]model.ChatModel, tracker *model.CostTracker) error {
	for name, m := range models {
		if m == nil {
			return fmt.Errorf("model %q is nil", name)
		}
		table[name] = ChatAgent(m, tracker)
	}
	return nil
}
