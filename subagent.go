package loom

import (
	"context"
	"encoding/json"
	"strings"
)

var agentTaskSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "The task for the agent, written with enough context to stand alone."}
	},
	"required": ["task"]
}`)

// AgentTool exposes an agent as a tool named "agent_<name>" so a
// coordinating agent can delegate work to it. The router's model fills
// in a task string; the subagent's final answer becomes the tool
// result, and its failures surface as tool errors the router can react
// to.
func AgentTool(agent *Agent, description string) Tool {
	return agentTool{agent: agent, description: description}
}

type agentTool struct {
	agent       *Agent
	description string
}

var _ Tool = agentTool{}

func (t agentTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "agent_" + t.agent.Name(),
		Description: t.description,
		Parameters:  agentTaskSchema,
	}}
}

func (t agentTool) Invoke(ctx context.Context, name string, input map[string]any) ([]Message, error) {
	task, _ := input["task"].(string)
	if strings.TrimSpace(task) == "" {
		return nil, &ErrTool{Name: name, Message: "task is required"}
	}
	answer, err := t.agent.Call(ctx, UserMessage(task))
	if err != nil {
		return nil, &ErrTool{Name: name, Message: err.Error()}
	}
	return []Message{NewMessage(RoleTool, TextBlock{Text: answer.Text()})}, nil
}
