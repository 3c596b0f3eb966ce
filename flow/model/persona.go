package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeline/phaseflow/flow"
)

// PersonaExecutor adapts a ChatModel into a flow.Executor. The persona
// prompt sets the role (for example "You are a senior backend
// engineer"); each attempt renders the node's envelope into a task
// message, asks the model for a single JSON object, and returns that
// object as the node output.
//
// The response object may include an "artifacts" key holding a list of
// strings; it is lifted out of the output into Result.Artifacts.
//
// Provider failures are classified for the retry policy: rate limits,
// timeouts, and overload map to transient; authentication and quota
// exhaustion map to fatal.
type PersonaExecutor struct {
	model   ChatModel
	persona string
}

// NewPersonaExecutor builds an executor around a chat model and its
// persona prompt.
func NewPersonaExecutor(model ChatModel, persona string) *PersonaExecutor {
	return &PersonaExecutor{model: model, persona: persona}
}

// Execute implements flow.Executor.
func (p *PersonaExecutor) Execute(ctx context.Context, env flow.Envelope) (flow.Result, error) {
	if env.Cancel != nil && env.Cancel.Cancelled() {
		return flow.Result{}, &flow.Error{
			Kind:    flow.KindCancelled,
			NodeID:  env.NodeID,
			Message: "cancelled before dispatch",
		}
	}

	task, err := renderTask(env)
	if err != nil {
		return flow.Result{}, flow.Fatal("render task for %s: %v", env.NodeID, err)
	}

	out, err := p.model.Chat(ctx, []Message{
		{Role: RoleSystem, Content: p.systemPrompt()},
		{Role: RoleUser, Content: task},
	})
	if err != nil {
		return flow.Result{}, classifyProviderError(env.NodeID, err)
	}

	output, err := parseOutput(out.Text)
	if err != nil {
		// A malformed reply is worth another attempt; models are not
		// deterministic.
		return flow.Result{}, flow.Transient("parse model output for %s: %v", env.NodeID, err)
	}

	result := flow.Result{Output: output}
	if arts, ok := output["artifacts"]; ok {
		result.Artifacts = toStringSlice(arts)
		delete(output, "artifacts")
	}
	return result, nil
}

func (p *PersonaExecutor) systemPrompt() string {
	var b strings.Builder
	b.WriteString(p.persona)
	b.WriteString("\n\nRespond with a single JSON object and nothing else. ")
	b.WriteString("Keys are metric or output names; values are numbers, strings, or booleans. ")
	b.WriteString("If you produced files, list their identifiers under an \"artifacts\" array key.")
	return b.String()
}

// renderTask serializes the envelope into the user message.
func renderTask(env flow.Envelope) (string, error) {
	payload := map[string]any{
		"node_id": env.NodeID,
		"attempt": env.Attempt,
	}
	if len(env.GlobalContext) > 0 {
		payload["global_context"] = env.GlobalContext
	}
	if len(env.DependencyOutputs) > 0 {
		payload["dependency_outputs"] = env.DependencyOutputs
	}
	if len(env.DependencyArtifacts) > 0 {
		payload["dependency_artifacts"] = env.DependencyArtifacts
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseOutput extracts the JSON object from a model reply, tolerating
// markdown code fences around it.
func parseOutput(text string) (map[string]any, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var output map[string]any
	if err := json.Unmarshal([]byte(cleaned), &output); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return output, nil
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// classifyProviderError maps provider failures onto the engine's error
// kinds by inspecting the message. Providers do not share a structured
// error surface, so substring matching is the common denominator.
func classifyProviderError(nodeID string, err error) *flow.Error {
	msg := strings.ToLower(err.Error())

	fatal := []string{"401", "403", "invalid api key", "authentication", "quota", "billing"}
	for _, marker := range fatal {
		if strings.Contains(msg, marker) {
			return &flow.Error{
				Kind:    flow.KindFatal,
				NodeID:  nodeID,
				Message: fmt.Sprintf("provider rejected request: %v", err),
				Cause:   err,
			}
		}
	}

	return &flow.Error{
		Kind:    flow.KindTransient,
		NodeID:  nodeID,
		Message: fmt.Sprintf("provider call failed: %v", err),
		Cause:   err,
	}
}
