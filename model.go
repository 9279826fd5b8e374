package loom

import (
	"context"
	"strings"
	"time"
)

// ToolChoiceKind steers whether the model may, must, or must not call
// tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceSpecific ToolChoiceKind = "specific"
)

// ToolChoice selects a tool-choice mode. Name is only read when Kind
// is ToolChoiceSpecific.
type ToolChoice struct {
	Kind ToolChoiceKind `json:"kind"`
	Name string         `json:"name,omitempty"`
}

// ModelOptions tune a single model call. Nil pointer fields keep the
// provider default.
type ModelOptions struct {
	Temperature    *float64
	TopP           *float64
	TopK           *int
	MaxTokens      int
	ThinkingBudget int
	ToolChoice     *ToolChoice

	AdditionalHeaders     map[string]string
	AdditionalBodyParams  map[string]any
	AdditionalQueryParams map[string]string
}

// ChatRequest is one model invocation.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
	Options  *ModelOptions
}

// Usage is the token accounting a provider reports for a turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatResponse is one streamed chunk or a fully assembled model reply.
// Chunks belonging to the same model turn share an ID.
type ChatResponse struct {
	ID      string
	Content []ContentBlock
	Usage   Usage
	Latency time.Duration
}

// Text concatenates the response's text blocks.
func (r ChatResponse) Text() string {
	var b strings.Builder
	for _, blk := range r.Content {
		if t, ok := blk.(TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolUses returns the response's tool-use blocks in order.
func (r ChatResponse) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, blk := range r.Content {
		if u, ok := blk.(ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}

// Model streams chat completions. Implementations send chunks on ch
// and return once the turn is complete; they must not close ch. The
// chunk sequence is finite and not restartable.
type Model interface {
	Stream(ctx context.Context, req ChatRequest, ch chan<- ChatResponse) error
	Name() string
}

// Complete runs a model turn to completion and returns the assembled
// response.
func Complete(ctx context.Context, m Model, req ChatRequest) (ChatResponse, error) {
	ch := make(chan ChatResponse, 8)
	done := make(chan error, 1)
	go func() {
		done <- m.Stream(ctx, req, ch)
	}()

	var asm responseAssembler
	for {
		select {
		case chunk := <-ch:
			asm.add(chunk)
		case err := <-done:
			for {
				select {
				case chunk := <-ch:
					asm.add(chunk)
				default:
					if err != nil {
						return ChatResponse{}, &ErrModel{Model: m.Name(), Err: err}
					}
					return asm.response(), nil
				}
			}
		}
	}
}

// responseAssembler merges streamed chunks into one response: text and
// thinking deltas concatenate, tool uses collect in arrival order, the
// last reported usage wins.
type responseAssembler struct {
	id       string
	thinking strings.Builder
	text     strings.Builder
	uses     []ToolUseBlock
	usage    Usage
	latency  time.Duration
}

func (a *responseAssembler) add(chunk ChatResponse) {
	if a.id == "" {
		a.id = chunk.ID
	}
	for _, blk := range chunk.Content {
		switch v := blk.(type) {
		case TextBlock:
			a.text.WriteString(v.Text)
		case ThinkingBlock:
			a.thinking.WriteString(v.Thinking)
		case ToolUseBlock:
			a.uses = append(a.uses, v)
		}
	}
	if chunk.Usage != (Usage{}) {
		a.usage = chunk.Usage
	}
	if chunk.Latency > 0 {
		a.latency = chunk.Latency
	}
}

func (a *responseAssembler) response() ChatResponse {
	var content []ContentBlock
	if a.thinking.Len() > 0 {
		content = append(content, ThinkingBlock{Thinking: a.thinking.String()})
	}
	if a.text.Len() > 0 {
		content = append(content, TextBlock{Text: a.text.String()})
	}
	for _, u := range a.uses {
		content = append(content, u)
	}
	return ChatResponse{ID: a.id, Content: content, Usage: a.usage, Latency: a.latency}
}
