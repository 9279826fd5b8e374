package loom

import (
	"context"
	"errors"
	"testing"
)

// memSessionStore is an in-memory SessionStore for tests.
type memSessionStore struct {
	states map[string]SessionState
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{states: make(map[string]SessionState)}
}

func (s *memSessionStore) Save(_ context.Context, id string, state SessionState) error {
	s.states[id] = state
	return nil
}

func (s *memSessionStore) Load(_ context.Context, id string) (SessionState, error) {
	state, ok := s.states[id]
	if !ok {
		return SessionState{}, &ErrNoSession{ID: id}
	}
	return state, nil
}

func (s *memSessionStore) Delete(_ context.Context, id string) error {
	delete(s.states, id)
	return nil
}

func planningAgent(t *testing.T) *Agent {
	t.Helper()
	mem, err := NewAutoContextMemory()
	if err != nil {
		t.Fatal(err)
	}
	agent, err := New(&mockModel{}, WithMemory(mem), WithPlan())
	if err != nil {
		t.Fatal(err)
	}
	return agent
}

func TestSnapshotRestore(t *testing.T) {
	agent := planningAgent(t)
	agent.Memory().AddMessages(UserMessage("first"), AssistantMessage("second"))
	if err := agent.PlanNotebook().Create(threeStepPlan()); err != nil {
		t.Fatal(err)
	}

	snap := agent.Snapshot()
	if len(snap.Memory.Working) != 2 {
		t.Fatalf("snapshot holds %d working messages, want 2", len(snap.Memory.Working))
	}
	if snap.Plan == nil || snap.Plan.Title != "Ship feature" {
		t.Fatalf("snapshot plan = %+v", snap.Plan)
	}

	restored := planningAgent(t)
	restored.Restore(snap)

	messages, err := restored.Memory().GetMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 || messages[0].Text() != "first" {
		t.Errorf("restored messages = %d starting %q", len(messages), messages[0].Text())
	}
	plan := restored.PlanNotebook().Current()
	if plan == nil || plan.Title != "Ship feature" || plan.State != PlanInProgress {
		t.Errorf("restored plan = %+v", plan)
	}
}

func TestSnapshotStateless(t *testing.T) {
	agent, err := New(&mockModel{})
	if err != nil {
		t.Fatal(err)
	}
	snap := agent.Snapshot()
	if len(snap.Memory.Working) != 0 || snap.Plan != nil {
		t.Errorf("stateless snapshot = %+v, want zero state", snap)
	}
}

func TestSaveLoadSession(t *testing.T) {
	store := newMemSessionStore()
	agent := planningAgent(t)
	agent.Memory().AddMessages(UserMessage("remember me"))

	if err := SaveSession(context.Background(), store, "s1", agent); err != nil {
		t.Fatal(err)
	}

	restored := planningAgent(t)
	if err := LoadSession(context.Background(), store, "s1", restored); err != nil {
		t.Fatal(err)
	}
	messages, err := restored.Memory().GetMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].Text() != "remember me" {
		t.Errorf("restored messages = %+v", messages)
	}

	err = LoadSession(context.Background(), store, "unknown", restored)
	var missing *ErrNoSession
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want ErrNoSession", err)
	}
	if missing.ID != "unknown" {
		t.Errorf("ID = %q, want %q", missing.ID, "unknown")
	}
}
