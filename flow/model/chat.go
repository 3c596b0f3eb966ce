// Package model bridges LLM chat providers into the workflow engine.
// It defines the ChatModel abstraction, a mock for tests, and
// PersonaExecutor, which turns a chat model plus a persona prompt into
// a flow.Executor producing node outputs.
package model

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem sets persona and instructions.
	RoleSystem Role = "system"

	// RoleUser carries the task input.
	RoleUser Role = "user"

	// RoleAssistant is a prior model turn.
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role
	Content string
}

// ChatOut is a provider response.
type ChatOut struct {
	// Text is the model's reply.
	Text string

	// TokensUsed is the total token count reported by the provider,
	// zero when unavailable.
	TokensUsed int
}

// ChatModel abstracts an LLM chat provider. Implementations live in
// the provider subpackages (anthropic, openai, google); tests use
// MockChatModel.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}
