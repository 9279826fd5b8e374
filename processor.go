package loom

import (
	"context"
	"fmt"
)

// ErrHalt short-circuits a run from a pre-model processor. The loop
// stops cleanly and answers with Response instead of calling the
// model.
type ErrHalt struct {
	Response string
}

func (e *ErrHalt) Error() string {
	return "halted: " + e.Response
}

// PreModelProcessor runs before each model call and may rewrite the
// outgoing messages. Returning *ErrHalt ends the run with a canned
// answer; any other error aborts it.
type PreModelProcessor interface {
	PreModel(ctx context.Context, messages []Message) ([]Message, error)
}

// PostModelProcessor runs after each assembled model turn and may
// rewrite the assistant message before it reaches memory and the
// event stream.
type PostModelProcessor interface {
	PostModel(ctx context.Context, message *Message) error
}

// PostToolProcessor runs after each tool invocation and may rewrite
// the tool result message. Errors become error text in the result;
// the loop continues.
type PostToolProcessor interface {
	PostTool(ctx context.Context, use ToolUseBlock, result *Message) error
}

// ProcessorChain fans the loop's checkpoints through registered
// processors in registration order.
type ProcessorChain struct {
	pre  []PreModelProcessor
	post []PostModelProcessor
	tool []PostToolProcessor
}

// Add registers p under every processor interface it implements.
func (c *ProcessorChain) Add(p any) error {
	matched := false
	if v, ok := p.(PreModelProcessor); ok {
		c.pre = append(c.pre, v)
		matched = true
	}
	if v, ok := p.(PostModelProcessor); ok {
		c.post = append(c.post, v)
		matched = true
	}
	if v, ok := p.(PostToolProcessor); ok {
		c.tool = append(c.tool, v)
		matched = true
	}
	if !matched {
		return fmt.Errorf("processor %T implements no processor interface", p)
	}
	return nil
}

func (c *ProcessorChain) RunPreModel(ctx context.Context, messages []Message) ([]Message, error) {
	var err error
	for _, p := range c.pre {
		messages, err = p.PreModel(ctx, messages)
		if err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (c *ProcessorChain) RunPostModel(ctx context.Context, message *Message) error {
	for _, p := range c.post {
		if err := p.PostModel(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (c *ProcessorChain) RunPostTool(ctx context.Context, use ToolUseBlock, result *Message) error {
	for _, p := range c.tool {
		if err := p.PostTool(ctx, use, result); err != nil {
			return err
		}
	}
	return nil
}
