package loom

import "context"

// SessionState is the serializable snapshot of an agent session:
// memory logs, offload table, compression audit trail, and plan.
type SessionState struct {
	Memory MemoryState `json:"memory"`
	Plan   *Plan       `json:"plan,omitempty"`
}

// SessionStore persists session state under caller-chosen ids. Load
// reports a never-saved id as *ErrNoSession.
type SessionStore interface {
	Save(ctx context.Context, id string, state SessionState) error
	Load(ctx context.Context, id string) (SessionState, error)
	Delete(ctx context.Context, id string) error
}

// Snapshot captures the agent's session state: the auto-context memory
// contents and the plan. Agents without either yield a zero state.
func (a *Agent) Snapshot() SessionState {
	var s SessionState
	if acm, ok := a.memory.(*AutoContextMemory); ok {
		s.Memory = acm.State()
	}
	if a.plan != nil {
		s.Plan = a.plan.Current()
	}
	return s
}

// Restore replaces the agent's session state from a snapshot.
func (a *Agent) Restore(s SessionState) {
	if acm, ok := a.memory.(*AutoContextMemory); ok {
		acm.SetState(s.Memory)
	}
	if a.plan != nil {
		a.plan.SetPlan(s.Plan)
	}
}

// SaveSession persists the agent's current session under id.
func SaveSession(ctx context.Context, store SessionStore, id string, agent *Agent) error {
	return store.Save(ctx, id, agent.Snapshot())
}

// LoadSession restores an agent's session from the store.
func LoadSession(ctx context.Context, store SessionStore, id string, agent *Agent) error {
	state, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	agent.Restore(state)
	return nil
}
