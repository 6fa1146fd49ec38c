package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Responses are returned in order and the last one repeats. Handler, when
// set, takes precedence and can compute a reply from the messages. Err, when
// set, fails every call.
type MockChatModel struct {
	Responses []ChatOut
	Handler   func(messages []Message) (ChatOut, error)
	Err       error

	mu    sync.Mutex
	calls [][]Message
	next  int
}

// Chat records the call and returns the next scripted reply.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, _ []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]Message(nil), messages...))
	switch {
	case m.Err != nil:
		return ChatOut{}, m.Err
	case m.Handler != nil:
		return m.Handler(messages)
	case len(m.Responses) == 0:
		return ChatOut{}, nil
	}

	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	return m.Responses[idx], nil
}

// Calls returns a copy of the recorded conversations.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// CallCount returns the number of Chat calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
