package agui

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/loomlabs/loom"
)

// Translator converts one run's loop events into protocol events while
// enforcing the lifecycle invariants: exactly one RunStarted first and
// one RunFinished last, exactly one Start/End pair per message id and
// per tool call id, and back-filled lifecycles for results whose call
// was never announced. A Translator serves exactly one run; none of its
// seen-sets carry across runs.
//
// Not safe for concurrent use. Feed it from the single goroutine that
// consumes the run's event stream.
type Translator struct {
	threadID string
	runID    string
	cfg      Config

	// StateFn supplies the shared state map. When the config enables
	// state events it is read once at run start for the snapshot and
	// once at run end for the delta.
	StateFn func() map[string]any

	started  bool
	finished bool
	before   map[string]any

	textStarted map[string]bool
	textDone    map[string]bool
	textSent    map[string]int
	thinkDone   map[string]bool
	thinkSent   map[string]int
	callSeen    map[string]bool
	callDone    map[string]bool
	callOrder   []string
	openText    string
	openThink   string
}

// NewTranslator builds a translator for one run.
func NewTranslator(threadID, runID string, cfg Config) *Translator {
	return &Translator{
		threadID:    threadID,
		runID:       runID,
		cfg:         cfg,
		textStarted: make(map[string]bool),
		textDone:    make(map[string]bool),
		textSent:    make(map[string]int),
		thinkDone:   make(map[string]bool),
		thinkSent:   make(map[string]int),
		callSeen:    make(map[string]bool),
		callDone:    make(map[string]bool),
	}
}

// Start opens the run. Repeated calls return nothing; Translate and
// Finish call it implicitly, so RunStarted comes first no matter how
// the translator is driven.
func (t *Translator) Start() []Event {
	if t.started {
		return nil
	}
	t.started = true
	out := []Event{RunStarted{baseEvent: base(TypeRunStarted), ThreadID: t.threadID, RunID: t.runID}}
	if t.cfg.EmitStateEvents && t.StateFn != nil {
		t.before = t.StateFn()
		out = append(out, StateSnapshot{baseEvent: base(TypeStateSnapshot), Snapshot: t.before})
	}
	return out
}

// Translate converts one loop event. The returned slice preserves
// protocol order and may be empty.
func (t *Translator) Translate(ev loom.Event) []Event {
	if t.finished {
		return nil
	}
	out := t.Start()
	switch ev.Type {
	case loom.EventReasoning:
		out = t.reasoning(out, ev)
	case loom.EventToolResult:
		out = t.toolResult(out, ev.Message)
	case loom.EventFinish:
		out = t.finishMessage(out, ev.Message)
	}
	return out
}

// Finish closes the run: open lifecycles end, a failed run reports its
// error as a Raw envelope, state changes flush as a delta, and
// RunFinished terminates the stream. Repeated calls return nothing.
func (t *Translator) Finish(err error) []Event {
	if t.finished {
		return nil
	}
	out := t.Start()
	t.finished = true
	out = t.closeThink(out)
	out = t.closeText(out)
	out = t.closeCalls(out)
	if err != nil {
		out = append(out, t.errorEnvelope(err))
	}
	if t.cfg.EmitStateEvents && t.StateFn != nil {
		if ops := diffState(t.before, t.StateFn()); len(ops) > 0 {
			out = append(out, StateDelta{baseEvent: base(TypeStateDelta), Delta: ops})
		}
	}
	out = append(out, RunFinished{baseEvent: base(TypeRunFinished), ThreadID: t.threadID, RunID: t.runID})
	return out
}

// reasoning handles a model turn event: streamed chunks carry deltas,
// the assembled turn (Last) carries the full content and closes every
// surface it opened.
func (t *Translator) reasoning(out []Event, ev loom.Event) []Event {
	msg := ev.Message
	for _, block := range msg.Content {
		switch b := block.(type) {
		case loom.ThinkingBlock:
			if !t.cfg.EnableReasoning || t.thinkDone[msg.ID] {
				continue
			}
			delta := nextDelta(t.thinkSent, msg.ID, b.Thinking, ev.Last)
			if delta == "" {
				continue
			}
			if t.openThink != msg.ID {
				out = t.closeThink(out)
				out = append(out, ReasoningMessageStart{baseEvent: base(TypeReasoningMessageStart), MessageID: msg.ID, Role: "assistant"})
				t.openThink = msg.ID
			}
			out = append(out, ReasoningMessageContent{baseEvent: base(TypeReasoningMessageContent), MessageID: msg.ID, Delta: delta})
		case loom.TextBlock:
			if t.textDone[msg.ID] {
				continue
			}
			delta := nextDelta(t.textSent, msg.ID, b.Text, ev.Last)
			if delta == "" {
				continue
			}
			out = t.closeThink(out)
			if t.openText != msg.ID {
				out = t.closeText(out)
				out = append(out, TextMessageStart{baseEvent: base(TypeTextMessageStart), MessageID: msg.ID, Role: "assistant"})
				t.textStarted[msg.ID] = true
				t.openText = msg.ID
			}
			out = append(out, TextMessageContent{baseEvent: base(TypeTextMessageContent), MessageID: msg.ID, Delta: delta})
		case loom.ToolUseBlock:
			out = t.closeThink(out)
			out = t.closeText(out)
			out = t.announceCall(out, msg.ID, b)
		}
	}
	if ev.Last {
		out = t.closeThink(out)
		out = t.closeText(out)
		out = t.closeCalls(out)
	}
	return out
}

// toolResult handles one completed tool call. A result whose call was
// never announced gets its Start and End back-filled first.
func (t *Translator) toolResult(out []Event, msg loom.Message) []Event {
	for _, r := range msg.ToolResults() {
		if !t.callSeen[r.ID] {
			t.callSeen[r.ID] = true
			t.callOrder = append(t.callOrder, r.ID)
			out = t.closeThink(out)
			out = t.closeText(out)
			out = append(out, ToolCallStart{baseEvent: base(TypeToolCallStart), ToolCallID: r.ID, ToolCallName: r.Name})
		}
		if !t.callDone[r.ID] {
			t.callDone[r.ID] = true
			out = append(out, ToolCallEnd{baseEvent: base(TypeToolCallEnd), ToolCallID: r.ID})
		}
		out = append(out, ToolCallResult{
			baseEvent:  base(TypeToolCallResult),
			MessageID:  msg.ID,
			ToolCallID: r.ID,
			Content:    blockText(r.Output),
			Role:       "tool",
		})
	}
	return out
}

// finishMessage back-fills the text lifecycle of a final answer the
// stream never carried, such as a guardrail response. Messages already
// replayed through reasoning events produce nothing here.
func (t *Translator) finishMessage(out []Event, msg loom.Message) []Event {
	text := msg.Text()
	if text == "" || t.textDone[msg.ID] {
		return out
	}
	delta := nextDelta(t.textSent, msg.ID, text, true)
	if t.openText != msg.ID {
		out = t.closeText(out)
		out = append(out, TextMessageStart{baseEvent: base(TypeTextMessageStart), MessageID: msg.ID, Role: "assistant"})
		t.textStarted[msg.ID] = true
		t.openText = msg.ID
	}
	if delta != "" {
		out = append(out, TextMessageContent{baseEvent: base(TypeTextMessageContent), MessageID: msg.ID, Delta: delta})
	}
	return t.closeText(out)
}

func (t *Translator) announceCall(out []Event, parentID string, use loom.ToolUseBlock) []Event {
	if t.callSeen[use.ID] {
		return out
	}
	t.callSeen[use.ID] = true
	t.callOrder = append(t.callOrder, use.ID)
	out = append(out, ToolCallStart{
		baseEvent:       base(TypeToolCallStart),
		ToolCallID:      use.ID,
		ToolCallName:    use.Name,
		ParentMessageID: parentID,
	})
	if t.cfg.EmitToolCallArgs {
		if args := string(use.Arguments()); args != "" {
			out = append(out, ToolCallArgs{baseEvent: base(TypeToolCallArgs), ToolCallID: use.ID, Delta: args})
		}
	}
	return out
}

func (t *Translator) closeText(out []Event) []Event {
	if t.openText == "" {
		return out
	}
	out = append(out, TextMessageEnd{baseEvent: base(TypeTextMessageEnd), MessageID: t.openText})
	t.textDone[t.openText] = true
	t.openText = ""
	return out
}

func (t *Translator) closeThink(out []Event) []Event {
	if t.openThink == "" {
		return out
	}
	out = append(out, ReasoningMessageEnd{baseEvent: base(TypeReasoningMessageEnd), MessageID: t.openThink})
	t.thinkDone[t.openThink] = true
	t.openThink = ""
	return out
}

// closeCalls ends every announced call that has no End yet, in
// announcement order.
func (t *Translator) closeCalls(out []Event) []Event {
	for _, id := range t.callOrder {
		if t.callDone[id] {
			continue
		}
		t.callDone[id] = true
		out = append(out, ToolCallEnd{baseEvent: base(TypeToolCallEnd), ToolCallID: id})
	}
	return out
}

func (t *Translator) errorEnvelope(err error) Event {
	kind := "error"
	var timeout *loom.ErrTimeout
	var cancelled *loom.ErrCancelled
	var truncated *loom.ErrMaxIters
	switch {
	case errors.As(err, &timeout):
		kind = "timeout"
	case errors.As(err, &cancelled):
		kind = "cancelled"
	case errors.As(err, &truncated):
		kind = "truncated"
	}
	payload, _ := json.Marshal(errorPayload{Kind: kind, Error: err.Error()})
	return Raw{baseEvent: base(TypeRaw), Event: payload}
}

// nextDelta returns the unseen part of a message surface. Chunk events
// carry pure deltas; the assembled turn repeats the full accumulated
// content, so only its suffix past what streaming already delivered is
// new.
func nextDelta(sent map[string]int, id, text string, assembled bool) string {
	if !assembled {
		sent[id] += len(text)
		return text
	}
	already := sent[id]
	if len(text) <= already {
		return ""
	}
	sent[id] = len(text)
	return text[already:]
}

func blockText(blocks []loom.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if tb, ok := b.(loom.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}
