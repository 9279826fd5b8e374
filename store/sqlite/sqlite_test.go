package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/loomlabs/loom"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testState() loom.SessionState {
	return loom.SessionState{
		Memory: loom.MemoryState{
			Working: []loom.Message{
				loom.UserMessage("what is the weather"),
				loom.AssistantMessage("checking now"),
			},
			Original: []loom.Message{
				loom.UserMessage("what is the weather"),
				loom.AssistantMessage("checking now"),
			},
			Offload: map[string][]loom.Message{
				"abc12345": {loom.ToolMessage("call-1", "fetch", loom.TextBlock{Text: "long payload"})},
			},
		},
		Plan: &loom.Plan{
			Title:    "answer the question",
			State:    loom.PlanInProgress,
			Subtasks: []loom.Subtask{{Title: "look up weather", State: loom.SubtaskInProgress}},
		},
	}
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := loom.NewID()
	if err := s.Save(ctx, id, testState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Memory.Working) != 2 {
		t.Fatalf("expected 2 working messages, got %d", len(got.Memory.Working))
	}
	if got.Memory.Working[0].Text() != "what is the weather" {
		t.Errorf("working[0] = %q, want %q", got.Memory.Working[0].Text(), "what is the weather")
	}
	if len(got.Memory.Offload["abc12345"]) != 1 {
		t.Fatalf("expected 1 offloaded message under abc12345, got %d", len(got.Memory.Offload["abc12345"]))
	}
	if got.Plan == nil || got.Plan.Title != "answer the question" {
		t.Errorf("plan not restored: %+v", got.Plan)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := loom.NewID()
	if err := s.Save(ctx, id, testState()); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	updated := testState()
	updated.Memory.Working = append(updated.Memory.Working, loom.AssistantMessage("sunny, 22C"))
	if err := s.Save(ctx, id, updated); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Memory.Working) != 3 {
		t.Errorf("expected 3 working messages after overwrite, got %d", len(got.Memory.Working))
	}
}

func TestLoadMissing(t *testing.T) {
	s := testStore(t)

	_, err := s.Load(context.Background(), "never-saved")
	var noSession *loom.ErrNoSession
	if !errors.As(err, &noSession) {
		t.Fatalf("Load error = %v, want *loom.ErrNoSession", err)
	}
	if noSession.ID != "never-saved" {
		t.Errorf("ErrNoSession.ID = %q, want %q", noSession.ID, "never-saved")
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := loom.NewID()
	if err := s.Save(ctx, id, testState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := s.Load(ctx, id)
	var noSession *loom.ErrNoSession
	if !errors.As(err, &noSession) {
		t.Fatalf("Load after Delete = %v, want *loom.ErrNoSession", err)
	}

	// Deleting an id that is already gone is not an error.
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}
