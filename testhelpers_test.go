package loom

import (
	"context"
	"errors"
	"sync"
)

// mockModel is a scripted Model: each Stream call sends the chunks of
// the next canned turn. Once the script runs out it answers with plain
// text so runs terminate, or with err when one is set. Requests are
// recorded for assertions.
type mockModel struct {
	name  string
	turns [][]ChatResponse
	err   error

	mu       sync.Mutex
	calls    int
	requests []ChatRequest
}

func (m *mockModel) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockModel) Stream(ctx context.Context, req ChatRequest, ch chan<- ChatResponse) error {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if idx >= len(m.turns) {
		if m.err != nil {
			return m.err
		}
		select {
		case ch <- textChunk("exhausted"):
		case <-ctx.Done():
		}
		return ctx.Err()
	}
	for _, chunk := range m.turns[idx] {
		select {
		case ch <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockModel) request(i int) ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func textChunk(text string) ChatResponse {
	return ChatResponse{Content: []ContentBlock{TextBlock{Text: text}}}
}

// textTurn scripts one model turn streamed as one chunk per string.
func textTurn(chunks ...string) []ChatResponse {
	turn := make([]ChatResponse, 0, len(chunks))
	for _, c := range chunks {
		turn = append(turn, textChunk(c))
	}
	return turn
}

// toolTurn scripts one model turn requesting the given tool calls.
func toolTurn(uses ...ToolUseBlock) []ChatResponse {
	blocks := make([]ContentBlock, 0, len(uses))
	for _, u := range uses {
		blocks = append(blocks, u)
	}
	return []ChatResponse{{Content: blocks}}
}

// countingSummarizer answers every request with a fixed summary and
// counts calls; used by the compression tests.
type countingSummarizer struct {
	text string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *countingSummarizer) Name() string { return "summarizer" }

func (s *countingSummarizer) Stream(ctx context.Context, _ ChatRequest, ch chan<- ChatResponse) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	text := s.text
	if text == "" {
		text = "summary of earlier activity"
	}
	select {
	case ch <- textChunk(text):
	case <-ctx.Done():
	}
	return ctx.Err()
}

func (s *countingSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// mockTool answers every invocation with fixed text.
type mockTool struct{}

func (mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "greet", Description: "Say hello"}}
}

func (mockTool) Invoke(_ context.Context, name string, _ map[string]any) ([]Message, error) {
	return []Message{NewMessage(RoleTool, TextBlock{Text: "hello from " + name})}, nil
}

type errTool struct{}

func (errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}

func (errTool) Invoke(context.Context, string, map[string]any) ([]Message, error) {
	return nil, errors.New("tool broken")
}

// barrierTool parks every invocation until release closes. Arrivals are
// observable so tests can prove calls overlap.
type barrierTool struct {
	arrived chan string
	release chan struct{}
}

func newBarrierTool(buffer int) *barrierTool {
	return &barrierTool{arrived: make(chan string, buffer), release: make(chan struct{})}
}

func (b *barrierTool) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{Name: "slow_a", Description: "Parks until released"},
		{Name: "slow_b", Description: "Parks until released"},
	}
}

func (b *barrierTool) Invoke(ctx context.Context, name string, _ map[string]any) ([]Message, error) {
	b.arrived <- name
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []Message{NewMessage(RoleTool, TextBlock{Text: "done " + name})}, nil
}

// collectEvents drains a stream into a slice.
func collectEvents(stream *EventStream) []Event {
	var events []Event
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
