// Package model adapts LLM chat providers to one interface so graph agents
// can call any of them.
package model

import "context"

// ChatModel is implemented by every provider adapter.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Answer in one word."},
//	    {Role: model.RoleUser, Content: "Capital of France?"},
//	}, nil)
type ChatModel interface {
	// Chat sends the conversation and returns the reply. Implementations
	// respect ctx and retry transient provider errors themselves.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a function the model may ask to call. Schema is a JSON
// Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a provider reply.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall

	// Usage is the token count reported by the provider, zero when unknown.
	Usage Usage

	// Model is the model name that served the request.
	Model string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// SplitSystem separates system messages from the conversation. Providers
// that take the system prompt as a request field use it.
func SplitSystem(messages []Message) (system []string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
