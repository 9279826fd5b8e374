package openaicompat

import (
	"encoding/json"
	"time"

	"github.com/loomlabs/loom"
)

// ParseResponse converts an OpenAI-format completion into a loom
// ChatResponse. Content, reasoning, tool calls, and usage come from
// choices[0]; latency is measured against startTime.
func (f *Formatter) ParseResponse(raw json.RawMessage, startTime time.Time) (loom.ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return loom.ChatResponse{}, err
	}

	out := loom.ChatResponse{ID: resp.ID}
	if !startTime.IsZero() {
		out.Latency = time.Since(startTime)
	}

	if resp.Usage != nil {
		out.Usage = loom.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
		if out.Usage.TotalTokens == 0 {
			out.Usage.TotalTokens = out.Usage.InputTokens + out.Usage.OutputTokens
		}
	}

	if len(resp.Choices) == 0 {
		return out, nil
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		msg = resp.Choices[0].Delta
	}
	if msg == nil {
		return out, nil
	}

	if msg.Reasoning != "" {
		out.Content = append(out.Content, loom.ThinkingBlock{Thinking: msg.Reasoning})
	}
	if msg.Content != "" {
		out.Content = append(out.Content, loom.TextBlock{Text: msg.Content})
	}
	for _, use := range parseToolCalls(msg.ToolCalls) {
		out.Content = append(out.Content, use)
	}
	return out, nil
}

// parseToolCalls converts wire tool calls into tool-use blocks. The
// vendor sends arguments as a JSON string; invalid payloads degrade to
// an empty object so the loop can still surface the call.
func parseToolCalls(tcs []ToolCallRequest) []loom.ToolUseBlock {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]loom.ToolUseBlock, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		use := loom.ToolUseBlock{
			ID:       tc.ID,
			Name:     tc.Function.Name,
			RawInput: args,
		}
		var input map[string]any
		if err := json.Unmarshal(args, &input); err == nil {
			use.Input = input
		}
		out = append(out, use)
	}
	return out
}
