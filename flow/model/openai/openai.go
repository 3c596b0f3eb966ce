// Package openai implements model.ChatModel on OpenAI's chat
// completions API via the official openai-go client.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/forgeline/phaseflow/flow/model"
)

// Model is a ChatModel backed by the chat completions endpoint with
// JSON-object response format, so persona executors get parseable
// replies. Safe for concurrent use after creation.
type Model struct {
	client *openai.Client
	model  string
}

// New creates a Model for the given API key and model name, for
// example "gpt-4o".
func New(apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Model{
		client: &client,
		model:  modelName,
	}, nil
}

// Chat implements model.ChatModel. The conversation is flattened into
// a single user message; system turns become a preamble.
func (m *Model) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	prompt := flattenMessages(messages)

	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai completion call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai returned no choices")
	}

	return model.ChatOut{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
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
