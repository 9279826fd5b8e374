package loom

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type taggingPre struct {
	tag string
	log *[]string
}

func (p taggingPre) PreModel(_ context.Context, messages []Message) ([]Message, error) {
	*p.log = append(*p.log, p.tag)
	return messages, nil
}

type countingProcessor struct {
	pre, post, tool int
}

func (p *countingProcessor) PreModel(_ context.Context, messages []Message) ([]Message, error) {
	p.pre++
	return messages, nil
}

func (p *countingProcessor) PostModel(context.Context, *Message) error {
	p.post++
	return nil
}

func (p *countingProcessor) PostTool(context.Context, ToolUseBlock, *Message) error {
	p.tool++
	return nil
}

func TestChainRejectsUnmatched(t *testing.T) {
	var chain ProcessorChain
	if err := chain.Add(struct{}{}); err == nil {
		t.Error("Add accepted a type with no processor interface")
	}
	if err := chain.Add(42); err == nil {
		t.Error("Add accepted an int")
	}
}

func TestChainRunsInRegistrationOrder(t *testing.T) {
	var log []string
	var chain ProcessorChain
	if err := chain.Add(taggingPre{tag: "first", log: &log}); err != nil {
		t.Fatal(err)
	}
	if err := chain.Add(taggingPre{tag: "second", log: &log}); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.RunPreModel(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 || log[0] != "first" || log[1] != "second" {
		t.Errorf("order = %v", log)
	}
}

func TestChainMatchesEveryInterface(t *testing.T) {
	p := &countingProcessor{}
	var chain ProcessorChain
	if err := chain.Add(p); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.RunPreModel(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	msg := AssistantMessage("x")
	if err := chain.RunPostModel(context.Background(), &msg); err != nil {
		t.Fatal(err)
	}
	if err := chain.RunPostTool(context.Background(), ToolUseBlock{}, &msg); err != nil {
		t.Fatal(err)
	}
	if p.pre != 1 || p.post != 1 || p.tool != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", p.pre, p.post, p.tool)
	}
}

type upcasePost struct{}

func (upcasePost) PostModel(_ context.Context, message *Message) error {
	for i, b := range message.Content {
		if text, ok := b.(TextBlock); ok {
			message.Content[i] = TextBlock{Text: strings.ToUpper(text.Text)}
		}
	}
	return nil
}

func TestPostModelRewritesAnswer(t *testing.T) {
	model := &mockModel{turns: [][]ChatResponse{textTurn("quiet answer")}}
	agent, err := New(model, WithProcessors(upcasePost{}))
	if err != nil {
		t.Fatal(err)
	}
	final, err := agent.Call(context.Background(), UserMessage("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if final.Text() != "QUIET ANSWER" {
		t.Errorf("final = %q, want the rewritten answer", final.Text())
	}
}

type rejectTool struct{}

func (rejectTool) PostTool(_ context.Context, use ToolUseBlock, _ *Message) error {
	return errors.New("rejected by policy: " + use.Name)
}

func TestPostToolErrorReplacesResult(t *testing.T) {
	model := &mockModel{turns: [][]ChatResponse{
		toolTurn(ToolUseBlock{ID: "use-1", Name: "greet"}),
		textTurn("moving on"),
	}}
	agent, err := New(model, WithTools(mockTool{}), WithProcessors(rejectTool{}))
	if err != nil {
		t.Fatal(err)
	}

	stream := agent.Stream(context.Background(), UserMessage("hi"))
	events := collectEvents(stream)
	if err := stream.Err(); err != nil {
		t.Fatal(err)
	}
	toolEvents := eventsOfType(events, EventToolResult)
	if len(toolEvents) != 1 {
		t.Fatalf("got %d tool result events, want 1", len(toolEvents))
	}
	if got := toolResultText(t, toolEvents[0].Message); got != "error: rejected by policy: greet" {
		t.Errorf("result text = %q", got)
	}
	finish := eventsOfType(events, EventFinish)
	if len(finish) != 1 || finish[0].Message.Text() != "moving on" {
		t.Error("run did not continue past the rejected tool")
	}
}
