package agui

import (
	"context"
	"sync"

	"github.com/loomlabs/loom"
)

// Resolution is a resolver's answer for one run request.
type Resolution struct {
	Agent *loom.Agent
	// ThreadHasMemory reports that the agent already holds this thread's
	// history server-side. The server then forwards only the latest user
	// message instead of replaying the whole wire conversation.
	ThreadHasMemory bool
}

// AgentResolver maps an agent id and thread id to a runnable agent.
type AgentResolver interface {
	Resolve(ctx context.Context, agentID, threadID string) (Resolution, error)
}

// ResolverFunc adapts a function to AgentResolver.
type ResolverFunc func(ctx context.Context, agentID, threadID string) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, agentID, threadID string) (Resolution, error) {
	return f(ctx, agentID, threadID)
}

// StaticResolver serves agents from a fixed in-process registry. For
// agents with memory it remembers which threads it has served, so
// repeat requests on a thread forward only the new user message.
type StaticResolver struct {
	mu     sync.Mutex
	agents map[string]*loom.Agent
	served map[string]bool
}

var _ AgentResolver = (*StaticResolver)(nil)

// NewStaticResolver builds an empty registry.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		agents: make(map[string]*loom.Agent),
		served: make(map[string]bool),
	}
}

// Register adds an agent under id, replacing any previous registration.
func (r *StaticResolver) Register(id string, agent *loom.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = agent
}

// Resolve looks up the agent and reports whether this thread was served
// before. An unknown id yields *loom.ErrConfig.
func (r *StaticResolver) Resolve(_ context.Context, agentID, threadID string) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return Resolution{}, &loom.ErrConfig{Reason: "no agent registered under id " + agentID}
	}
	key := agentID + "\x00" + threadID
	res := Resolution{
		Agent:           agent,
		ThreadHasMemory: agent.HasMemory() && r.served[key],
	}
	r.served[key] = true
	return res, nil
}
