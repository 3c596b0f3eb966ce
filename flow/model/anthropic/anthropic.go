// Package anthropic implements model.ChatModel on Anthropic's Claude
// API via the official anthropic-sdk-go client.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgeline/phaseflow/flow/model"
)

// Model is a ChatModel backed by the Anthropic Messages API. Safe for
// concurrent use after creation.
type Model struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Model for the given API key and model name, for
// example "claude-sonnet-4-5". Keys come from
// https://console.anthropic.com/; read them from the environment, not
// source.
func New(apiKey, modelName string) *Model {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Model{
		client:    &client,
		model:     modelName,
		maxTokens: 4096,
	}
}

// Chat implements model.ChatModel. The conversation is flattened into
// a single user message; system turns become a preamble.
func (m *Model) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	prompt := flattenMessages(messages)

	message, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic messages call: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text:       text.String(),
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

func flattenMessages(messages []model.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}
