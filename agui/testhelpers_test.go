package agui

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/loomlabs/loom"
)

// scriptModel replays canned turns, one per Stream call, and records
// requests. Once the script runs out it answers with plain text.
type scriptModel struct {
	turns [][]loom.ChatResponse

	mu       sync.Mutex
	calls    int
	requests []loom.ChatRequest
}

func (m *scriptModel) Name() string { return "script" }

func (m *scriptModel) Stream(ctx context.Context, req loom.ChatRequest, ch chan<- loom.ChatResponse) error {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if idx >= len(m.turns) {
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

func (m *scriptModel) request(i int) loom.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func (m *scriptModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// parkingModel blocks until the run context ends.
type parkingModel struct{}

func (parkingModel) Name() string { return "parking" }

func (parkingModel) Stream(ctx context.Context, _ loom.ChatRequest, _ chan<- loom.ChatResponse) error {
	<-ctx.Done()
	return ctx.Err()
}

func textChunk(text string) loom.ChatResponse {
	return loom.ChatResponse{Content: []loom.ContentBlock{loom.TextBlock{Text: text}}}
}

func textTurn(chunks ...string) []loom.ChatResponse {
	turn := make([]loom.ChatResponse, 0, len(chunks))
	for _, c := range chunks {
		turn = append(turn, textChunk(c))
	}
	return turn
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type()
	}
	return types
}

func eventsOf(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type() == typ {
			out = append(out, ev)
		}
	}
	return out
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	typ  string
	data json.RawMessage
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, chunk := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var frame sseFrame
		for _, line := range strings.Split(chunk, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = json.RawMessage(strings.TrimPrefix(line, "data: "))
			}
		}
		if frame.typ == "" {
			t.Fatalf("frame without event line: %q", chunk)
		}
		frames = append(frames, frame)
	}
	return frames
}

func frameTypes(frames []sseFrame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.typ
	}
	return types
}
