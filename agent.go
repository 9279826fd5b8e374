package loom

import (
	"context"
	"log/slog"
)

// Agent runs the reasoning loop: model turns interleaved with tool
// invocations until the model answers in plain text.
type Agent struct {
	name         string
	model        Model
	systemPrompt string
	memory       Memory
	tools        *ToolRegistry
	processors   ProcessorChain
	plan         *PlanNotebook
	ltm          LongTermMemory
	ltmMode      LTMMode
	knowledge    Knowledge
	ragMode      RAGMode
	ragConfig    RetrievalConfig

	maxIters      int
	parallelTools bool
	modelOptions  *ModelOptions

	logger *slog.Logger
	tracer Tracer

	userTools      []Tool
	userProcessors []any
	planEnabled    bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithName names the agent; resolvers and logs use it.
func WithName(name string) Option {
	return func(a *Agent) { a.name = name }
}

// WithSystemPrompt prepends a system message to every model call.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithMemory attaches a conversational memory. An AutoContextMemory
// additionally contributes its reload tool.
func WithMemory(m Memory) Option {
	return func(a *Agent) { a.memory = m }
}

// WithTools registers tools the model may call.
func WithTools(tools ...Tool) Option {
	return func(a *Agent) { a.userTools = append(a.userTools, tools...) }
}

// WithProcessors registers pre-model, post-model, and post-tool
// processors; each is matched by the interfaces it implements.
func WithProcessors(processors ...any) Option {
	return func(a *Agent) { a.userProcessors = append(a.userProcessors, processors...) }
}

// WithPlan enables the plan notebook and registers the plan tools.
func WithPlan() Option {
	return func(a *Agent) { a.planEnabled = true }
}

// WithLongTermMemory attaches a long-term memory. STATIC_CONTROL makes
// the loop retrieve and record; AGENT_CONTROL exposes tools instead.
func WithLongTermMemory(ltm LongTermMemory, mode LTMMode) Option {
	return func(a *Agent) {
		a.ltm = ltm
		a.ltmMode = mode
	}
}

// WithKnowledge attaches a knowledge base. GENERIC retrieves once per
// run; AGENTIC registers the retrieve_knowledge tool.
func WithKnowledge(kb Knowledge, mode RAGMode, cfg RetrievalConfig) Option {
	return func(a *Agent) {
		a.knowledge = kb
		a.ragMode = mode
		a.ragConfig = cfg
	}
}

// WithMaxIters caps the number of model turns per run.
func WithMaxIters(n int) Option {
	return func(a *Agent) { a.maxIters = n }
}

// WithParallelTools lets tool calls of one assistant turn run
// concurrently. Results are still emitted in request order. Only
// enable this when the registered tools are safe to interleave.
func WithParallelTools(enabled bool) Option {
	return func(a *Agent) { a.parallelTools = enabled }
}

// WithModelOptions sets default sampling options for every model
// call. Per-run options on RunInput take precedence.
func WithModelOptions(opts *ModelOptions) Option {
	return func(a *Agent) { a.modelOptions = opts }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer sets the tracer. Defaults to a no-op tracer.
func WithTracer(t Tracer) Option {
	return func(a *Agent) {
		if t != nil {
			a.tracer = t
		}
	}
}

// New builds an agent around a model.
func New(model Model, opts ...Option) (*Agent, error) {
	a := &Agent{
		name:     "agent",
		model:    model,
		maxIters: 10,
		logger:   nopLogger,
		tracer:   nopTracer{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.model == nil {
		return nil, &ErrConfig{Reason: "model is required"}
	}
	if a.maxIters <= 0 {
		return nil, &ErrConfig{Reason: "max iters must be positive"}
	}
	if a.ltm != nil && a.ltmMode == "" {
		a.ltmMode = LTMStaticControl
	}
	if a.knowledge != nil && a.ragMode == "" {
		a.ragMode = RAGGeneric
	}
	if a.knowledge != nil && a.ragConfig.Limit <= 0 {
		a.ragConfig.Limit = 5
	}

	if a.planEnabled {
		a.plan = NewPlanNotebook()
	}

	registry, err := NewToolRegistry(a.userTools...)
	if err != nil {
		return nil, err
	}
	if a.plan != nil {
		if err := registry.Add(PlanTool(a.plan)); err != nil {
			return nil, err
		}
	}
	if a.ltm != nil && a.ltmMode == LTMAgentControl {
		if err := registry.Add(LTMTool(a.ltm)); err != nil {
			return nil, err
		}
	}
	if a.knowledge != nil && a.ragMode == RAGAgentic {
		if err := registry.Add(KnowledgeTool(a.knowledge, a.ragConfig)); err != nil {
			return nil, err
		}
	}
	if acm, ok := a.memory.(*AutoContextMemory); ok {
		if err := registry.Add(acm.ReloadTool()); err != nil {
			return nil, err
		}
		if a.plan != nil {
			acm.AttachPlan(a.plan)
		}
	}
	a.tools = registry

	for _, p := range a.userProcessors {
		if err := a.processors.Add(p); err != nil {
			return nil, &ErrConfig{Reason: err.Error()}
		}
	}
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// HasMemory reports whether the agent keeps conversation state across
// runs.
func (a *Agent) HasMemory() bool { return a.memory != nil }

// Memory returns the attached memory, nil when runs are stateless.
func (a *Agent) Memory() Memory { return a.memory }

// PlanNotebook returns the plan notebook, nil unless WithPlan was set.
func (a *Agent) PlanNotebook() *PlanNotebook { return a.plan }

// RunInput is one run request: the new messages plus per-run tool and
// option overrides.
type RunInput struct {
	Messages []Message
	// ClientTools are declared by the caller and executed on its side.
	// The run stops after the model requests one so the caller can
	// answer in a follow-up run.
	ClientTools       []ToolDefinition
	ExcludeAgentTools bool
	Options           *ModelOptions
}

// Call runs the loop to completion and returns the final assistant
// message. On truncation the message is returned along with
// *ErrMaxIters.
func (a *Agent) Call(ctx context.Context, messages ...Message) (Message, error) {
	stream := a.Stream(ctx, messages...)
	var final Message
	for ev := range stream.Events() {
		if ev.Type == EventFinish {
			final = ev.Message
		}
	}
	if err := stream.Err(); err != nil {
		return final, err
	}
	return final, nil
}

// Stream starts a run and returns its event stream.
func (a *Agent) Stream(ctx context.Context, messages ...Message) *EventStream {
	return a.StreamRun(ctx, RunInput{Messages: messages})
}

// StreamRun starts a run with per-run overrides and returns its event
// stream. Closing the stream cancels the run.
func (a *Agent) StreamRun(ctx context.Context, run RunInput) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	stream := newEventStream(cancel)
	go a.runLoop(ctx, run, stream)
	return stream
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
