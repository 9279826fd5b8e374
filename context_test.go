package loom

import (
	"context"
	"strings"
	"testing"
)

func TestNewAutoContextMemoryValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  MemoryOption
	}{
		{"threshold", MemoryMsgThreshold(0)},
		{"max tokens", MemoryMaxTokens(-1)},
		{"ratio low", MemoryTokenRatio(0)},
		{"ratio high", MemoryTokenRatio(1.5)},
		{"last keep", MemoryLastKeep(-1)},
		{"min tool run", MemoryMinToolRun(0)},
		{"large payload", MemoryLargePayload(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAutoContextMemory(tt.opt); err == nil {
				t.Error("expected a config error")
			}
		})
	}
}

func TestAddMessagesWritesBothLogs(t *testing.T) {
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	mem.AddMessages(Message{Role: RoleUser, Content: []ContentBlock{TextBlock{Text: "hi"}}})

	working, err := mem.GetMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(working) != 1 {
		t.Fatalf("working = %d messages, want 1", len(working))
	}
	if working[0].ID == "" {
		t.Error("blank id was not filled in")
	}
	original := mem.Original()
	if len(original) != 1 || original[0].ID != working[0].ID {
		t.Errorf("original = %+v", original)
	}
}

func TestGetMessagesBelowThresholdDoesNotCompress(t *testing.T) {
	sum := &countingSummarizer{}
	mem, err := NewAutoContextMemory(
		MemorySummarizer(sum),
		MemoryMsgThreshold(10),
		MemoryMaxTokens(10),
		MemoryTokenRatio(0.5),
	)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		mem.AddMessages(UserMessage(strings.Repeat("x", 100)))
	}

	got, err := mem.GetMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Errorf("working = %d messages, want 10 untouched", len(got))
	}
	if sum.callCount() != 0 {
		t.Errorf("summarizer called %d times below the threshold", sum.callCount())
	}
}

func TestReloadUnknownHandle(t *testing.T) {
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	got := mem.Reload("missing")
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Role != RoleTool {
		t.Errorf("Role = %q, want %q", got[0].Role, RoleTool)
	}
	if !strings.HasPrefix(got[0].Text(), "error: ") {
		t.Errorf("Text() = %q, want an error message", got[0].Text())
	}
}

func TestClearResetsEverything(t *testing.T) {
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	mem.AddMessages(UserMessage("hi"))
	mem.Clear()

	if got, _ := mem.GetMessages(context.Background()); len(got) != 0 {
		t.Errorf("working = %d messages after Clear", len(got))
	}
	if got := mem.Original(); len(got) != 0 {
		t.Errorf("original = %d messages after Clear", len(got))
	}
	if got := mem.Events(); len(got) != 0 {
		t.Errorf("events = %d after Clear", len(got))
	}
}

func TestStateRoundTrip(t *testing.T) {
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	mem.AddMessages(UserMessage("question"), AssistantMessage("answer"))

	state := mem.State()
	state.Offload = map[string][]Message{"handle-1": {UserMessage("offloaded")}}
	state.Events = []CompressionEvent{{Kind: CompressionLargePayloadOffload, Timestamp: 1}}

	restored, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	restored.SetState(state)

	working, _ := restored.GetMessages(context.Background())
	if len(working) != 2 || working[0].Text() != "question" {
		t.Errorf("working = %+v", working)
	}
	if got := restored.Reload("handle-1"); len(got) != 1 || got[0].Text() != "offloaded" {
		t.Errorf("Reload = %+v", got)
	}
	if events := restored.Events(); len(events) != 1 || events[0].Kind != CompressionLargePayloadOffload {
		t.Errorf("events = %+v", events)
	}
}

func TestReloadToolRoundTrip(t *testing.T) {
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	mem.offload["h1"] = []Message{UserMessage("stored content")}

	tool := mem.ReloadTool()
	defs := tool.Definitions()
	if len(defs) != 1 || defs[0].Name != "reload_messages" {
		t.Fatalf("definitions = %+v", defs)
	}

	out, err := tool.Invoke(context.Background(), "reload_messages", map[string]any{"uuid": "h1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !strings.Contains(out[0].Text(), "stored content") {
		t.Errorf("out = %+v", out)
	}

	if _, err := tool.Invoke(context.Background(), "reload_messages", map[string]any{"uuid": "nope"}); err == nil {
		t.Error("expected an error for an unknown handle")
	}
}

func TestClearOffload(t *testing.T) {
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	mem.offload["h1"] = []Message{UserMessage("x")}
	mem.ClearOffload("h1")
	if got := mem.Reload("h1"); !strings.HasPrefix(got[0].Text(), "error: ") {
		t.Errorf("handle survived ClearOffload: %q", got[0].Text())
	}
}

func TestPromptsWithDefaults(t *testing.T) {
	p := CompressionPrompts{LargeMessage: "custom"}.withDefaults()
	if p.LargeMessage != "custom" {
		t.Errorf("LargeMessage = %q, want the override kept", p.LargeMessage)
	}
	if p.ToolInvocation == "" || p.PreviousRound == "" || p.CurrentRound == "" {
		t.Error("unset prompts were not defaulted")
	}
}
