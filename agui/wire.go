package agui

import (
	"encoding/json"
	"strings"

	"github.com/loomlabs/loom"
)

// RunAgentInput is the request body of POST /agui/run.
type RunAgentInput struct {
	ThreadID       string         `json:"threadId"`
	RunID          string         `json:"runId"`
	Messages       []Message      `json:"messages"`
	Tools          []Tool         `json:"tools,omitempty"`
	Context        []ContextItem  `json:"context,omitempty"`
	ForwardedProps map[string]any `json:"forwardedProps,omitempty"`
}

// Message is one conversation entry on the wire.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is a tool request recorded on an assistant wire message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the called function and carries its arguments as a
// JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a frontend-executed tool the model may call. The run
// stops when the model requests one so the frontend can answer it in a
// follow-up request.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ContextItem is an auxiliary fact the frontend forwards with the run.
type ContextItem struct {
	Description string `json:"description,omitempty"`
	Value       string `json:"value"`
}

// toMessages converts the wire conversation into loom messages. Context
// items, when present, become one leading system message. Messages with
// an unknown role are dropped.
func (in RunAgentInput) toMessages() []loom.Message {
	msgs := make([]loom.Message, 0, len(in.Messages)+1)
	if ctx := renderContext(in.Context); ctx != "" {
		msgs = append(msgs, loom.SystemMessage(ctx))
	}
	for _, wm := range in.Messages {
		m, ok := wm.toMessage()
		if !ok {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func (wm Message) toMessage() (loom.Message, bool) {
	id := wm.ID
	if id == "" {
		id = loom.NewID()
	}
	switch wm.Role {
	case "user":
		return loom.Message{ID: id, Role: loom.RoleUser, Name: wm.Name,
			Content: []loom.ContentBlock{loom.TextBlock{Text: wm.Content}}}, true
	case "system":
		return loom.Message{ID: id, Role: loom.RoleSystem, Name: wm.Name,
			Content: []loom.ContentBlock{loom.TextBlock{Text: wm.Content}}}, true
	case "assistant":
		var blocks []loom.ContentBlock
		if wm.Content != "" {
			blocks = append(blocks, loom.TextBlock{Text: wm.Content})
		}
		for _, call := range wm.ToolCalls {
			blocks = append(blocks, toolUseBlock(call))
		}
		return loom.Message{ID: id, Role: loom.RoleAssistant, Name: wm.Name, Content: blocks}, true
	case "tool":
		return loom.Message{ID: id, Role: loom.RoleTool, Name: wm.Name,
			Content: []loom.ContentBlock{loom.ToolResultBlock{
				ID:     wm.ToolCallID,
				Name:   wm.Name,
				Output: []loom.ContentBlock{loom.TextBlock{Text: wm.Content}},
			}}}, true
	default:
		return loom.Message{}, false
	}
}

func toolUseBlock(call ToolCall) loom.ToolUseBlock {
	block := loom.ToolUseBlock{ID: call.ID, Name: call.Function.Name}
	if args := strings.TrimSpace(call.Function.Arguments); args != "" {
		block.RawInput = json.RawMessage(args)
		var input map[string]any
		if err := json.Unmarshal(block.RawInput, &input); err == nil {
			block.Input = input
		}
	}
	return block
}

// toDefinitions converts frontend tool declarations into definitions the
// loop can advertise to the model.
func toDefinitions(tools []Tool) []loom.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]loom.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, loom.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

func renderContext(items []ContextItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Context:")
	for _, item := range items {
		b.WriteString("\n- ")
		if item.Description != "" {
			b.WriteString(item.Description)
			b.WriteString(": ")
		}
		b.WriteString(item.Value)
	}
	return b.String()
}

// latestUser reduces a conversation to its most recent user message,
// used when the agent already holds the thread's history server-side.
func latestUser(msgs []loom.Message) []loom.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == loom.RoleUser {
			return []loom.Message{msgs[i]}
		}
	}
	return nil
}

// agentIDFromProps pulls the agent id override out of forwardedProps.
func agentIDFromProps(props map[string]any) string {
	if props == nil {
		return ""
	}
	id, _ := props["agentId"].(string)
	return id
}
