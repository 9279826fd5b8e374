package loom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const maxParallelDispatch = 10

// runLog is the transient memory of a run when the agent has none
// attached.
type runLog struct {
	log *MessageLog
}

var _ Memory = (*runLog)(nil)

func newRunLog() *runLog {
	return &runLog{log: NewMessageLog()}
}

func (r *runLog) AddMessages(messages ...Message) {
	for _, m := range messages {
		if m.ID == "" {
			m.ID = NewID()
		}
		r.log.Append(m)
	}
}

func (r *runLog) GetMessages(context.Context) ([]Message, error) {
	return r.log.Get(), nil
}

func (a *Agent) runLoop(ctx context.Context, run RunInput, stream *EventStream) {
	var runErr error
	defer func() {
		stream.finish(runErr)
	}()

	ctx, span := a.tracer.Start(ctx, "agent.run",
		StringAttr("agent", a.name),
		StringAttr("model", a.model.Name()))
	defer span.End()
	defer func() {
		if runErr != nil {
			span.Error(runErr)
		}
	}()

	mem := a.memory
	if mem == nil {
		mem = newRunLog()
	}
	mem.AddMessages(run.Messages...)

	defs, clientOnly := a.mergeTools(run)
	ragContext := a.knowledgeContext(ctx, run)

	modelOpts := run.Options
	if modelOpts == nil {
		modelOpts = a.modelOptions
	}

	var lastAssistant Message
	for iter := 0; iter < a.maxIters; iter++ {
		if err := ctx.Err(); err != nil {
			runErr = &ErrCancelled{Err: err}
			return
		}

		working, err := mem.GetMessages(ctx)
		if err != nil {
			runErr = &ErrMemory{Op: "get", Err: err}
			return
		}
		request := append(a.contextPrefix(ctx, ragContext, working), working...)

		request, err = a.processors.RunPreModel(ctx, request)
		if err != nil {
			var halt *ErrHalt
			if errors.As(err, &halt) {
				answer := AssistantMessage(halt.Response)
				mem.AddMessages(answer)
				stream.send(ctx, Event{Type: EventFinish, Message: answer, Last: true})
				a.recordExchange(ctx, run, answer)
				return
			}
			runErr = err
			return
		}

		assistant, err := a.streamTurn(ctx, ChatRequest{Messages: request, Tools: defs, Options: modelOpts}, stream)
		if err != nil {
			runErr = err
			return
		}
		if err := a.processors.RunPostModel(ctx, &assistant); err != nil {
			runErr = err
			return
		}
		mem.AddMessages(assistant)
		lastAssistant = assistant

		if !stream.send(ctx, Event{Type: EventReasoning, Message: assistant, Last: true}) {
			runErr = &ErrCancelled{Err: ctx.Err()}
			return
		}

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			stream.send(ctx, Event{Type: EventFinish, Message: assistant, Last: true})
			a.recordExchange(ctx, run, assistant)
			return
		}

		agentUses, clientRequested := splitUses(uses, clientOnly)
		results := a.dispatchTools(ctx, agentUses)
		for i, use := range agentUses {
			result := results[i]
			if err := a.processors.RunPostTool(ctx, use, &result); err != nil {
				result = toolErrorResult(use, err.Error())
			}
			mem.AddMessages(result)
			if !stream.send(ctx, Event{Type: EventToolResult, Message: result, Last: true}) {
				runErr = &ErrCancelled{Err: ctx.Err()}
				return
			}
		}

		if clientRequested {
			// the caller owns some of the requested tools; stop so it
			// can answer them in a follow-up run
			stream.send(ctx, Event{Type: EventFinish, Message: assistant, Last: true})
			return
		}
	}

	runErr = &ErrMaxIters{Iters: a.maxIters}
	truncated := lastAssistant.WithMetadata("truncated", "true")
	stream.send(ctx, Event{Type: EventFinish, Message: truncated, Last: true})
}

// streamTurn runs one model turn, forwarding every chunk as a
// REASONING event under an id that stays stable for the whole turn.
func (a *Agent) streamTurn(ctx context.Context, req ChatRequest, stream *EventStream) (Message, error) {
	mctx, span := a.tracer.Start(ctx, "model.stream", StringAttr("model", a.model.Name()))
	defer span.End()

	ch := make(chan ChatResponse, 8)
	done := make(chan error, 1)
	go func() {
		done <- a.model.Stream(mctx, req, ch)
	}()

	var asm responseAssembler
	turnID := ""
	forward := func(chunk ChatResponse) bool {
		asm.add(chunk)
		if turnID == "" {
			turnID = chunk.ID
			if turnID == "" {
				turnID = NewID()
			}
		}
		if len(chunk.Content) == 0 {
			return true
		}
		msg := Message{ID: turnID, Role: RoleAssistant, Content: chunk.Content}
		return stream.send(ctx, Event{Type: EventReasoning, Message: msg})
	}

	var modelErr error
	for running := true; running; {
		select {
		case chunk := <-ch:
			if !forward(chunk) {
				reapModel(ch, done)
				return Message{}, &ErrCancelled{Err: ctx.Err()}
			}
		case modelErr = <-done:
			running = false
		}
	}
	for drained := false; !drained; {
		select {
		case chunk := <-ch:
			if !forward(chunk) {
				return Message{}, &ErrCancelled{Err: ctx.Err()}
			}
		default:
			drained = true
		}
	}

	if modelErr != nil {
		span.Error(modelErr)
		if ctx.Err() != nil {
			return Message{}, &ErrCancelled{Err: ctx.Err()}
		}
		var wrapped *ErrModel
		if errors.As(modelErr, &wrapped) {
			return Message{}, modelErr
		}
		return Message{}, &ErrModel{Model: a.model.Name(), Err: modelErr}
	}

	resp := asm.response()
	if turnID == "" {
		turnID = NewID()
	}
	span.SetAttr(
		IntAttr("input_tokens", resp.Usage.InputTokens),
		IntAttr("output_tokens", resp.Usage.OutputTokens))
	return Message{ID: turnID, Role: RoleAssistant, Content: resp.Content}, nil
}

// reapModel unblocks the model goroutine after the consumer went away.
func reapModel(ch chan ChatResponse, done chan error) {
	for {
		select {
		case <-ch:
		case <-done:
			return
		}
	}
}

// mergeTools resolves the tool surface of one run. Client tools win
// name collisions; the returned set marks names only the caller can
// execute.
func (a *Agent) mergeTools(run RunInput) ([]ToolDefinition, map[string]bool) {
	clientOnly := make(map[string]bool, len(run.ClientTools))
	var defs []ToolDefinition
	for _, def := range run.ClientTools {
		if clientOnly[def.Name] {
			continue
		}
		clientOnly[def.Name] = true
		defs = append(defs, def)
	}
	if run.ExcludeAgentTools {
		return defs, clientOnly
	}
	for _, def := range a.tools.Definitions() {
		if clientOnly[def.Name] {
			continue
		}
		defs = append(defs, def)
	}
	return defs, clientOnly
}

func splitUses(uses []ToolUseBlock, clientOnly map[string]bool) ([]ToolUseBlock, bool) {
	if len(clientOnly) == 0 {
		return uses, false
	}
	var agentUses []ToolUseBlock
	clientRequested := false
	for _, use := range uses {
		if clientOnly[use.Name] {
			clientRequested = true
			continue
		}
		agentUses = append(agentUses, use)
	}
	return agentUses, clientRequested
}

// knowledgeContext retrieves once per run in GENERIC mode. Failures
// degrade to an empty context.
func (a *Agent) knowledgeContext(ctx context.Context, run RunInput) string {
	if a.knowledge == nil || a.ragMode != RAGGeneric {
		return ""
	}
	query := latestUserText(run.Messages)
	if query == "" {
		return ""
	}
	results, err := a.knowledge.Retrieve(ctx, query, a.ragConfig)
	if err != nil {
		a.logger.Warn("knowledge retrieval failed", "agent", a.name, "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}
	return "Relevant knowledge:\n\n" + renderKnowledge(results)
}

// contextPrefix assembles the per-call context: system prompt,
// retrieved knowledge, recalled long-term memories.
func (a *Agent) contextPrefix(ctx context.Context, ragContext string, working []Message) []Message {
	var prefix []Message
	if a.systemPrompt != "" {
		prefix = append(prefix, SystemMessage(a.systemPrompt))
	}
	if ragContext != "" {
		prefix = append(prefix, SystemMessage(ragContext))
	}
	if a.ltm != nil && a.ltmMode == LTMStaticControl {
		if query := latestUserText(working); query != "" {
			recalled, err := a.ltm.Retrieve(ctx, query)
			if err != nil {
				a.logger.Warn("long-term memory retrieval failed", "agent", a.name, "error", err)
			} else {
				prefix = append(prefix, recalled...)
			}
		}
	}
	return prefix
}

// recordExchange persists the run into long-term memory in
// STATIC_CONTROL mode.
func (a *Agent) recordExchange(ctx context.Context, run RunInput, answer Message) {
	if a.ltm == nil || a.ltmMode != LTMStaticControl {
		return
	}
	msgs := append(append([]Message(nil), run.Messages...), answer)
	if err := a.ltm.Record(ctx, msgs); err != nil {
		a.logger.Warn("long-term memory record failed", "agent", a.name, "error", err)
	}
}

func latestUserText(messages []Message) string {
	if i := latestIndex(messages, RoleUser); i >= 0 {
		return messages[i].Text()
	}
	return ""
}

type indexedResult struct {
	idx int
	msg Message
}

// dispatchTools executes the given tool calls and returns their
// results in request order. Calls run sequentially unless the agent
// opted into parallel tools.
func (a *Agent) dispatchTools(ctx context.Context, uses []ToolUseBlock) []Message {
	results := make([]Message, len(uses))
	if len(uses) == 0 {
		return results
	}
	workers := 1
	if a.parallelTools {
		workers = min(len(uses), maxParallelDispatch)
	}
	if workers <= 1 {
		for i, use := range uses {
			results[i] = a.dispatchOne(ctx, use)
		}
		return results
	}

	workCh := make(chan int)
	resultCh := make(chan indexedResult, len(uses))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				resultCh <- indexedResult{idx: idx, msg: a.dispatchOne(ctx, uses[idx])}
			}
		}()
	}
	go func() {
		defer close(workCh)
		for i := range uses {
			select {
			case workCh <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(resultCh)
	}()
	for r := range resultCh {
		results[r.idx] = r.msg
	}
	for i, use := range uses {
		if results[i].ID == "" {
			results[i] = toolErrorResult(use, "cancelled before execution")
		}
	}
	return results
}

// dispatchOne runs a single tool call, converting every failure mode
// into error text the model can react to.
func (a *Agent) dispatchOne(ctx context.Context, use ToolUseBlock) Message {
	tctx, span := a.tracer.Start(ctx, "tool.invoke", StringAttr("tool", use.Name))
	defer span.End()
	if err := ctx.Err(); err != nil {
		span.Error(err)
		return toolErrorResult(use, "cancelled before execution")
	}
	out, err := a.safeInvoke(tctx, use)
	if err != nil {
		span.Error(err)
		a.logger.Warn("tool invocation failed", "tool", use.Name, "error", err)
		return toolErrorResult(use, err.Error())
	}
	blocks := flattenMessages(out)
	if len(blocks) == 0 {
		blocks = []ContentBlock{TextBlock{Text: "(no output)"}}
	}
	return ToolMessage(use.ID, use.Name, blocks...)
}

func (a *Agent) safeInvoke(ctx context.Context, use ToolUseBlock) (out []Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", use.Name, r)
		}
	}()
	input := use.Input
	if input == nil && len(use.RawInput) > 0 {
		if jerr := json.Unmarshal(use.RawInput, &input); jerr != nil {
			return nil, &ErrTool{Name: use.Name, Message: "arguments are not valid json: " + jerr.Error()}
		}
	}
	return a.tools.Invoke(ctx, use.Name, input)
}

func toolErrorResult(use ToolUseBlock, msg string) Message {
	return ToolMessage(use.ID, use.Name, TextBlock{Text: "error: " + msg})
}

// flattenMessages folds tool output messages into the content blocks
// of one ToolResultBlock.
func flattenMessages(messages []Message) []ContentBlock {
	var blocks []ContentBlock
	for _, m := range messages {
		blocks = append(blocks, m.Content...)
	}
	return blocks
}
