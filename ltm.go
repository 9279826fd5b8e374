package loom

import (
	"context"
	"encoding/json"
)

// LTMMode selects who drives long-term memory: the loop or the model.
type LTMMode string

const (
	// LTMStaticControl makes the loop retrieve before every model call
	// and record the exchange after the run.
	LTMStaticControl LTMMode = "STATIC_CONTROL"
	// LTMAgentControl exposes record/retrieve as tools instead.
	LTMAgentControl LTMMode = "AGENT_CONTROL"
)

// LongTermMemory persists facts across sessions. Implementations
// typically sit on an embedding store; the core only depends on this
// contract.
type LongTermMemory interface {
	Record(ctx context.Context, messages []Message) error
	Retrieve(ctx context.Context, query string) ([]Message, error)
}

var recordMemoryToolDef = ToolDefinition{
	Name:        "record_memory",
	Description: "Store a fact worth remembering across conversations, such as a user preference or a durable decision.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The fact to remember, written so it is useful without further context."}
		},
		"required": ["content"]
	}`),
}

var retrieveMemoryToolDef = ToolDefinition{
	Name:        "retrieve_memory",
	Description: "Look up facts recorded in earlier conversations.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to look for."}
		},
		"required": ["query"]
	}`),
}

// LTMTool exposes a LongTermMemory as record/retrieve tools for
// AGENT_CONTROL mode.
func LTMTool(ltm LongTermMemory) Tool {
	return ltmTool{ltm: ltm}
}

type ltmTool struct {
	ltm LongTermMemory
}

var _ Tool = ltmTool{}

func (t ltmTool) Definitions() []ToolDefinition {
	return []ToolDefinition{recordMemoryToolDef, retrieveMemoryToolDef}
}

func (t ltmTool) Invoke(ctx context.Context, name string, input map[string]any) ([]Message, error) {
	switch name {
	case recordMemoryToolDef.Name:
		content, _ := input["content"].(string)
		if err := t.ltm.Record(ctx, []Message{NewMessage(RoleAssistant, TextBlock{Text: content})}); err != nil {
			return nil, &ErrTool{Name: name, Message: err.Error()}
		}
		return []Message{NewMessage(RoleTool, TextBlock{Text: "memory recorded"})}, nil
	case retrieveMemoryToolDef.Name:
		query, _ := input["query"].(string)
		memories, err := t.ltm.Retrieve(ctx, query)
		if err != nil {
			return nil, &ErrTool{Name: name, Message: err.Error()}
		}
		if len(memories) == 0 {
			return []Message{NewMessage(RoleTool, TextBlock{Text: "no memories found"})}, nil
		}
		return []Message{NewMessage(RoleTool, TextBlock{Text: renderTranscript(memories)})}, nil
	default:
		return nil, &ErrTool{Name: name, Message: "unknown tool: " + name}
	}
}
