package model

import (
	"context"
	"sync"
)

// MockChatCall records one Chat invocation for assertions.
type MockChatCall struct {
	Messages []Message
}

// MockChatModel implements ChatModel for tests. Responses are returned
// in sequence; when they run out the last one repeats. Set Err to make
// every call fail.
//
// Example:
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{{Text: `{"score": 9.1}`}},
//	}
//	exec := model.NewPersonaExecutor(mock, "You are a backend engineer.")
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	mu        sync.Mutex
	calls     []MockChatCall
	callIndex int
}

// Chat records the call and returns the next scripted response.
func (m *MockChatModel) Chat(_ context.Context, messages []Message) (ChatOut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockChatCall{Messages: messages})
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.callIndex++
	return m.Responses[idx], nil
}

// CallCount returns how many times Chat was invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded invocations.
func (m *MockChatModel) Calls() []MockChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockChatCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls and rewinds the response sequence.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callIndex = 0
}
