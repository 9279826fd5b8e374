package loom

import (
	"context"
	"sync"
)

// EventType classifies loop events.
type EventType string

const (
	// EventReasoning carries model output: streamed chunks, then the
	// assembled turn with Last set.
	EventReasoning EventType = "REASONING"
	// EventToolResult carries the outcome of one tool invocation.
	EventToolResult EventType = "TOOL_RESULT"
	// EventFinish is the terminal event of a run; its message is the
	// final assistant answer.
	EventFinish EventType = "FINISH"
)

// Event is one step of a run. Last marks the terminal event of a
// logical step: the assembled model turn or a completed tool call.
type Event struct {
	Type    EventType
	Message Message
	Last    bool
}

// EventStream is the cold, single-subscriber event sequence of one
// run. The channel is unbuffered, so consumer demand throttles the
// loop end to end.
type EventStream struct {
	ch     chan Event
	cancel context.CancelFunc
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newEventStream(cancel context.CancelFunc) *EventStream {
	return &EventStream{ch: make(chan Event), cancel: cancel}
}

// Events returns the receive side of the stream. The channel closes
// when the run ends; check Err afterwards.
func (s *EventStream) Events() <-chan Event {
	return s.ch
}

// Err reports why the run ended, nil for a clean finish. Only valid
// after the events channel closed.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the run. Safe to call repeatedly and concurrently with
// consumption; the events channel still closes normally.
func (s *EventStream) Close() {
	s.cancel()
}

// send delivers one event, giving up when the run context ends.
func (s *EventStream) send(ctx context.Context, ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *EventStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && err != nil {
		s.err = err
	}
}

// finish records the terminal error (if any) and closes the channel
// exactly once.
func (s *EventStream) finish(err error) {
	s.setErr(err)
	s.once.Do(func() { close(s.ch) })
}
