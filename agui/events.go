// Package agui adapts a loom agent's event stream to the AG-UI
// protocol: a lifecycle-conformant sequence of JSON events suitable for
// streaming front-ends. The package provides the event vocabulary, a
// per-run Translator enforcing the lifecycle invariants, and an HTTP
// server exposing runs over SSE.
package agui

import (
	"encoding/json"
	"time"
)

// EventType identifies a protocol event on the wire.
type EventType string

const (
	TypeRunStarted  EventType = "RUN_STARTED"
	TypeRunFinished EventType = "RUN_FINISHED"

	TypeTextMessageStart   EventType = "TEXT_MESSAGE_START"
	TypeTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	TypeTextMessageEnd     EventType = "TEXT_MESSAGE_END"

	TypeReasoningMessageStart   EventType = "REASONING_MESSAGE_START"
	TypeReasoningMessageContent EventType = "REASONING_MESSAGE_CONTENT"
	TypeReasoningMessageEnd     EventType = "REASONING_MESSAGE_END"

	TypeToolCallStart  EventType = "TOOL_CALL_START"
	TypeToolCallArgs   EventType = "TOOL_CALL_ARGS"
	TypeToolCallEnd    EventType = "TOOL_CALL_END"
	TypeToolCallResult EventType = "TOOL_CALL_RESULT"

	TypeStateSnapshot EventType = "STATE_SNAPSHOT"
	TypeStateDelta    EventType = "STATE_DELTA"
	TypeRaw           EventType = "RAW"
)

// Event is one protocol event. The concrete types below are the full
// vocabulary; all of them marshal to JSON with a "type" discriminator.
type Event interface {
	Type() EventType
}

type baseEvent struct {
	EventType EventType `json:"type"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

func (e baseEvent) Type() EventType { return e.EventType }

func base(t EventType) baseEvent {
	return baseEvent{EventType: t, Timestamp: time.Now().UnixMilli()}
}

// RunStarted opens a run. Exactly one is emitted, before anything else.
type RunStarted struct {
	baseEvent
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

// RunFinished closes a run. Exactly one is emitted, after everything
// else, even when the run failed.
type RunFinished struct {
	baseEvent
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

// TextMessageStart opens the text surface of one assistant message.
type TextMessageStart struct {
	baseEvent
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

// TextMessageContent carries one incremental text delta.
type TextMessageContent struct {
	baseEvent
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// TextMessageEnd closes the text surface of one assistant message.
type TextMessageEnd struct {
	baseEvent
	MessageID string `json:"messageId"`
}

// ReasoningMessageStart opens the reasoning surface of one message.
// Only emitted when the server enables reasoning passthrough.
type ReasoningMessageStart struct {
	baseEvent
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

// ReasoningMessageContent carries one incremental reasoning delta.
type ReasoningMessageContent struct {
	baseEvent
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// ReasoningMessageEnd closes the reasoning surface of one message.
type ReasoningMessageEnd struct {
	baseEvent
	MessageID string `json:"messageId"`
}

// ToolCallStart announces one tool call. ParentMessageID names the
// assistant message that requested it, empty for back-filled calls.
type ToolCallStart struct {
	baseEvent
	ToolCallID      string `json:"toolCallId"`
	ToolCallName    string `json:"toolCallName"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// ToolCallArgs carries the raw argument payload of a tool call as an
// incremental delta.
type ToolCallArgs struct {
	baseEvent
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

// ToolCallEnd closes a tool call's argument surface. It always precedes
// the call's ToolCallResult when a result arrives.
type ToolCallEnd struct {
	baseEvent
	ToolCallID string `json:"toolCallId"`
}

// ToolCallResult carries the outcome of one tool call.
type ToolCallResult struct {
	baseEvent
	MessageID  string `json:"messageId"`
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	Role       string `json:"role,omitempty"`
}

// StateSnapshot carries the full shared state map.
type StateSnapshot struct {
	baseEvent
	Snapshot map[string]any `json:"snapshot"`
}

// StateDelta carries JSON-Patch operations describing a state change.
type StateDelta struct {
	baseEvent
	Delta []PatchOp `json:"delta"`
}

// Raw wraps an arbitrary JSON payload. Terminal run errors travel as
// Raw envelopes so RunFinished can still close the stream.
type Raw struct {
	baseEvent
	Event json.RawMessage `json:"event"`
}

// errorPayload is the Raw envelope body for a failed run.
type errorPayload struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}
