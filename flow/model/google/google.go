// Package google implements model.ChatModel on Google's Gemini API via
// the generative-ai-go client.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/forgeline/phaseflow/flow/model"
)

// Model is a ChatModel backed by Gemini, configured for JSON output so
// persona executors get parseable replies. Call Close when done.
type Model struct {
	client *genai.Client
	model  string
}

// New creates a Model for the given API key and model name, for
// example "gemini-1.5-pro". The client holds a connection; release it
// with Close.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Model{
		client: client,
		model:  modelName,
	}, nil
}

// Close releases the underlying client.
func (m *Model) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements model.ChatModel. The conversation is flattened into
// a single prompt; system turns become a preamble.
func (m *Model) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	gm := m.client.GenerativeModel(m.model)
	gm.ResponseMIMEType = "application/json"

	resp, err := gm.GenerateContent(ctx, genai.Text(flattenMessages(messages)))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("gemini generate call: %w", err)
	}

	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out, nil
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
