package loom

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Memory is the conversational store consulted by the agent loop.
// Implementations may rewrite history between a write and a read; the
// loop always works from the latest GetMessages snapshot.
type Memory interface {
	AddMessages(messages ...Message)
	GetMessages(ctx context.Context) ([]Message, error)
}

// CompressionKind labels what a compression rewrite did.
type CompressionKind string

const (
	CompressionToolInvocation      CompressionKind = "TOOL_INVOCATION_COMPRESS"
	CompressionPreviousRound       CompressionKind = "PREVIOUS_ROUND_SUMMARY"
	CompressionCurrentRoundLarge   CompressionKind = "CURRENT_ROUND_LARGE_MESSAGE"
	CompressionCurrentRound        CompressionKind = "CURRENT_ROUND_MESSAGE_COMPRESS"
	CompressionLargePayloadOffload CompressionKind = "LARGE_PAYLOAD_OFFLOAD"
)

// CompressionEvent is one audit record of a working-set rewrite. It
// never affects semantics; PreviousID and NextID anchor the replaced
// span to its surviving neighbors.
type CompressionEvent struct {
	Kind            CompressionKind   `json:"kind"`
	Timestamp       int64             `json:"timestamp"`
	CompressedCount int               `json:"compressed_count,omitempty"`
	PreviousID      string            `json:"previous_id,omitempty"`
	NextID          string            `json:"next_id,omitempty"`
	CompressedID    string            `json:"compressed_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Event metadata keys.
const (
	eventMetaTokenBefore = "token_before"
	eventMetaTokenAfter  = "token_after"
	eventMetaHandle      = "handle"
	eventMetaError       = "error"
)

// AutoContextMemory keeps the working set a model sees inside a token
// budget. Writes go to both a working log and an append-only original
// log; reads lazily compress the working log, moving replaced spans
// into an offload table keyed by opaque handles so the model can
// restore them through the reload tool.
type AutoContextMemory struct {
	mu       sync.Mutex
	working  *MessageLog
	original *MessageLog
	offload  map[string][]Message
	events   []CompressionEvent
	plan     *PlanNotebook

	model   Model
	prompts CompressionPrompts

	msgThreshold int
	maxTokens    int
	tokenRatio   float64
	lastKeep     int
	minToolRun   int
	largePayload int

	logger *slog.Logger
	tracer Tracer
}

var _ Memory = (*AutoContextMemory)(nil)

// MemoryOption configures an AutoContextMemory.
type MemoryOption func(*AutoContextMemory)

// MemorySummarizer sets the model used by the summarizing strategies.
// Without one, only the offload strategies apply.
func MemorySummarizer(m Model) MemoryOption {
	return func(a *AutoContextMemory) { a.model = m }
}

// MemoryMsgThreshold sets the minimum working-set size before
// compression is considered.
func MemoryMsgThreshold(n int) MemoryOption {
	return func(a *AutoContextMemory) { a.msgThreshold = n }
}

// MemoryMaxTokens sets the token ceiling the budget is computed from.
func MemoryMaxTokens(n int) MemoryOption {
	return func(a *AutoContextMemory) { a.maxTokens = n }
}

// MemoryTokenRatio sets the fraction of the ceiling at which
// compression activates.
func MemoryTokenRatio(r float64) MemoryOption {
	return func(a *AutoContextMemory) { a.tokenRatio = r }
}

// MemoryLastKeep sets how many trailing messages are never rewritten.
func MemoryLastKeep(n int) MemoryOption {
	return func(a *AutoContextMemory) { a.lastKeep = n }
}

// MemoryMinToolRun sets the shortest consecutive tool-message run the
// tool-invocation strategy will summarize.
func MemoryMinToolRun(n int) MemoryOption {
	return func(a *AutoContextMemory) { a.minToolRun = n }
}

// MemoryLargePayload sets the character count above which a single
// message counts as a large payload.
func MemoryLargePayload(n int) MemoryOption {
	return func(a *AutoContextMemory) { a.largePayload = n }
}

// MemoryPrompts overrides the summarization prompts. Unset fields keep
// their defaults.
func MemoryPrompts(p CompressionPrompts) MemoryOption {
	return func(a *AutoContextMemory) { a.prompts = p }
}

// MemoryLogger sets the logger. Defaults to a no-op logger.
func MemoryLogger(l *slog.Logger) MemoryOption {
	return func(a *AutoContextMemory) {
		if l != nil {
			a.logger = l
		}
	}
}

// MemoryTracer sets the tracer. Defaults to a no-op tracer.
func MemoryTracer(t Tracer) MemoryOption {
	return func(a *AutoContextMemory) {
		if t != nil {
			a.tracer = t
		}
	}
}

// NewAutoContextMemory builds an empty memory with the given options.
func NewAutoContextMemory(opts ...MemoryOption) (*AutoContextMemory, error) {
	m := &AutoContextMemory{
		working:      NewMessageLog(),
		original:     NewMessageLog(),
		offload:      make(map[string][]Message),
		msgThreshold: 20,
		maxTokens:    64000,
		tokenRatio:   0.8,
		lastKeep:     5,
		minToolRun:   3,
		largePayload: 4096,
		logger:       nopLogger,
		tracer:       nopTracer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.prompts = m.prompts.withDefaults()
	if m.msgThreshold <= 0 {
		return nil, &ErrConfig{Reason: "message threshold must be positive"}
	}
	if m.maxTokens <= 0 {
		return nil, &ErrConfig{Reason: "max tokens must be positive"}
	}
	if m.tokenRatio <= 0 || m.tokenRatio > 1 {
		return nil, &ErrConfig{Reason: "token ratio must be in (0, 1]"}
	}
	if m.lastKeep < 0 {
		return nil, &ErrConfig{Reason: "last keep cannot be negative"}
	}
	if m.minToolRun <= 0 {
		return nil, &ErrConfig{Reason: "min tool run must be positive"}
	}
	if m.largePayload <= 0 {
		return nil, &ErrConfig{Reason: "large payload threshold must be positive"}
	}
	return m, nil
}

// AddMessages appends to both the working and the original log. Blank
// message ids are filled in. Writes never compress.
func (m *AutoContextMemory) AddMessages(messages ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = NewID()
		}
		m.working.Append(msg)
		m.original.Append(msg)
	}
}

// GetMessages returns the working set, compressing first when it
// exceeds both the message threshold and the token budget. Compression
// is best-effort: a failing strategy is recorded and skipped, never
// surfaced to the caller.
func (m *AutoContextMemory) GetMessages(ctx context.Context) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.needsCompression() {
		return m.working.Get(), nil
	}

	cctx, span := m.tracer.Start(ctx, "memory.compact",
		IntAttr("messages", m.working.Len()),
		IntAttr("tokens", EstimateTokens(m.working.messages)))
	defer span.End()

	passes := 0
	for m.needsCompression() {
		if cctx.Err() != nil {
			break
		}
		if !m.compressOnce(cctx) {
			break
		}
		passes++
	}
	span.SetAttr(
		IntAttr("passes", passes),
		IntAttr("messages_after", m.working.Len()),
		IntAttr("tokens_after", EstimateTokens(m.working.messages)))
	return m.working.Get(), nil
}

// Original returns a snapshot of the uncompressed history.
func (m *AutoContextMemory) Original() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.original.Get()
}

// Events returns a copy of the compression audit trail.
func (m *AutoContextMemory) Events() []CompressionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompressionEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Reload returns the messages stored under handle. An unknown or blank
// handle yields a single tool-role error message instead of an error,
// so the result can flow straight back to the model.
func (m *AutoContextMemory) Reload(handle string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.offload[handle]
	if handle == "" || !ok {
		return []Message{NewMessage(RoleTool, TextBlock{Text: "error: no offloaded messages under handle " + handle})}
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ClearOffload drops one offload handle.
func (m *AutoContextMemory) ClearOffload(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offload, handle)
}

// Clear resets the logs, the offload table, and the audit trail.
func (m *AutoContextMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working.Clear()
	m.original.Clear()
	m.offload = make(map[string][]Message)
	m.events = nil
}

// AttachPlan makes the plan notebook's current state available to the
// summarization prompts as a hint.
func (m *AutoContextMemory) AttachPlan(p *PlanNotebook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = p
}

// DetachPlan removes the attached plan notebook.
func (m *AutoContextMemory) DetachPlan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = nil
}

// MemoryState is the serializable snapshot of an AutoContextMemory.
type MemoryState struct {
	Working  []Message            `json:"working"`
	Original []Message            `json:"original"`
	Offload  map[string][]Message `json:"offload,omitempty"`
	Events   []CompressionEvent   `json:"events,omitempty"`
}

// State snapshots the memory for persistence.
func (m *AutoContextMemory) State() MemoryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MemoryState{
		Working:  m.working.Get(),
		Original: m.original.Get(),
	}
	if len(m.offload) > 0 {
		s.Offload = make(map[string][]Message, len(m.offload))
		for handle, msgs := range m.offload {
			cp := make([]Message, len(msgs))
			copy(cp, msgs)
			s.Offload[handle] = cp
		}
	}
	if len(m.events) > 0 {
		s.Events = make([]CompressionEvent, len(m.events))
		copy(s.Events, m.events)
	}
	return s
}

// SetState replaces the memory contents with a previously saved
// snapshot.
func (m *AutoContextMemory) SetState(s MemoryState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working = NewMessageLog(s.Working...)
	m.original = NewMessageLog(s.Original...)
	m.offload = make(map[string][]Message, len(s.Offload))
	for handle, msgs := range s.Offload {
		cp := make([]Message, len(msgs))
		copy(cp, msgs)
		m.offload[handle] = cp
	}
	m.events = nil
	if len(s.Events) > 0 {
		m.events = make([]CompressionEvent, len(s.Events))
		copy(m.events, s.Events)
	}
}

var reloadMessagesToolDef = ToolDefinition{
	Name:        "reload_messages",
	Description: "Restore conversation messages that were compressed away earlier. Pass the uuid handle mentioned in a summary to get the full original content back.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"uuid": {
				"type": "string",
				"description": "Offload handle from a compression summary, e.g. the value after 'uuid:'."
			}
		},
		"required": ["uuid"]
	}`),
}

// ReloadTool exposes the offload table to the model as a tool.
func (m *AutoContextMemory) ReloadTool() Tool {
	return reloadTool{mem: m}
}

type reloadTool struct {
	mem *AutoContextMemory
}

func (t reloadTool) Definitions() []ToolDefinition {
	return []ToolDefinition{reloadMessagesToolDef}
}

func (t reloadTool) Invoke(_ context.Context, name string, input map[string]any) ([]Message, error) {
	if name != reloadMessagesToolDef.Name {
		return nil, &ErrTool{Name: name, Message: "unknown tool: " + name}
	}
	handle, _ := input["uuid"].(string)
	t.mem.mu.Lock()
	msgs, ok := t.mem.offload[handle]
	t.mem.mu.Unlock()
	if handle == "" || !ok {
		return nil, &ErrTool{Name: name, Message: "no offloaded messages under handle " + handle}
	}
	return []Message{NewMessage(RoleTool, TextBlock{Text: renderTranscript(msgs)})}, nil
}
