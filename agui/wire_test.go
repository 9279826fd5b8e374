package agui

import (
	"testing"

	"github.com/loomlabs/loom"
)

func TestToMessagesRoles(t *testing.T) {
	in := RunAgentInput{Messages: []Message{
		{ID: "w1", Role: "user", Content: "hi"},
		{ID: "w2", Role: "system", Content: "be brief"},
		{ID: "w3", Role: "assistant", Content: "checking", ToolCalls: []ToolCall{
			{ID: "c1", Type: "function", Function: FunctionCall{Name: "search", Arguments: `{"q":"go"}`}},
		}},
		{ID: "w4", Role: "tool", Name: "search", Content: "42 results", ToolCallID: "c1"},
		{ID: "w5", Role: "developer", Content: "dropped"},
	}}

	msgs := in.toMessages()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}

	wantRoles := []loom.Role{loom.RoleUser, loom.RoleSystem, loom.RoleAssistant, loom.RoleTool}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, msgs[i].Role, want)
		}
	}

	assistant := msgs[2]
	if len(assistant.Content) != 2 {
		t.Fatalf("assistant has %d blocks, want 2", len(assistant.Content))
	}
	use, ok := assistant.Content[1].(loom.ToolUseBlock)
	if !ok {
		t.Fatalf("assistant block 1 is %T, want ToolUseBlock", assistant.Content[1])
	}
	if use.ID != "c1" || use.Name != "search" {
		t.Errorf("tool use = %q/%q, want c1/search", use.ID, use.Name)
	}
	if use.Input["q"] != "go" {
		t.Errorf("tool use input q = %v, want go", use.Input["q"])
	}

	results := msgs[3].ToolResults()
	if len(results) != 1 {
		t.Fatalf("tool message has %d results, want 1", len(results))
	}
	if results[0].ID != "c1" || results[0].Name != "search" {
		t.Errorf("result = %q/%q, want c1/search", results[0].ID, results[0].Name)
	}
}

func TestToMessagesContext(t *testing.T) {
	in := RunAgentInput{
		Context: []ContextItem{
			{Description: "Region", Value: "eu-west"},
			{Value: "beta"},
		},
		Messages: []Message{{Role: "user", Content: "hi"}},
	}

	msgs := in.toMessages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != loom.RoleSystem {
		t.Fatalf("first message role = %q, want system", msgs[0].Role)
	}
	want := "Context:\n- Region: eu-west\n- beta"
	if got := msgs[0].Text(); got != want {
		t.Errorf("context message = %q, want %q", got, want)
	}
}

func TestToMessagesFillsMissingIDs(t *testing.T) {
	in := RunAgentInput{Messages: []Message{{Role: "user", Content: "hi"}}}

	msgs := in.toMessages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID == "" {
		t.Error("message ID not filled")
	}
}

func TestToolUseBlockArguments(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantRaw   string
		wantInput bool
	}{
		{"empty", "", "", false},
		{"whitespace", "   ", "", false},
		{"valid", `{"q":"go"}`, `{"q":"go"}`, true},
		{"invalid", "not json", "not json", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := toolUseBlock(ToolCall{ID: "c1", Function: FunctionCall{Name: "f", Arguments: tt.args}})
			if got := string(block.RawInput); got != tt.wantRaw {
				t.Errorf("RawInput = %q, want %q", got, tt.wantRaw)
			}
			if got := block.Input != nil; got != tt.wantInput {
				t.Errorf("Input set = %v, want %v", got, tt.wantInput)
			}
		})
	}
}

func TestToDefinitions(t *testing.T) {
	defs := toDefinitions([]Tool{
		{Name: "open_widget", Description: "Opens a widget.", Parameters: []byte(`{"type":"object"}`)},
		{Name: "close_widget"},
	})

	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Name != "open_widget" || defs[0].Description != "Opens a widget." {
		t.Errorf("definition 0 = %+v", defs[0])
	}
	if string(defs[0].Parameters) != `{"type":"object"}` {
		t.Errorf("parameters = %s", defs[0].Parameters)
	}

	if got := toDefinitions(nil); got != nil {
		t.Errorf("toDefinitions(nil) = %v, want nil", got)
	}
}

func TestLatestUser(t *testing.T) {
	msgs := []loom.Message{
		loom.SystemMessage("be brief"),
		loom.UserMessage("first"),
		loom.AssistantMessage("answer"),
		loom.UserMessage("second"),
		loom.AssistantMessage("answer two"),
	}

	got := latestUser(msgs)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Text() != "second" {
		t.Errorf("latest user = %q, want %q", got[0].Text(), "second")
	}

	if got := latestUser([]loom.Message{loom.AssistantMessage("a")}); got != nil {
		t.Errorf("latestUser without user messages = %v, want nil", got)
	}
}

func TestAgentIDFromProps(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
		want  string
	}{
		{"nil", nil, ""},
		{"missing", map[string]any{}, ""},
		{"set", map[string]any{"agentId": "researcher"}, "researcher"},
		{"wrong type", map[string]any{"agentId": 42}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agentIDFromProps(tt.props); got != tt.want {
				t.Errorf("agentIDFromProps = %q, want %q", got, tt.want)
			}
		})
	}
}
