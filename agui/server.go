package agui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomlabs/loom"
	"github.com/loomlabs/loom/internal/config"
)

// ToolMergeMode picks whose tool surface the model sees when the
// frontend declares tools on the request.
type ToolMergeMode string

const (
	// MergeFrontendOnly advertises only the frontend's tools.
	MergeFrontendOnly ToolMergeMode = "FRONTEND_ONLY"
	// MergeAgentOnly ignores frontend tools entirely.
	MergeAgentOnly ToolMergeMode = "AGENT_ONLY"
	// MergeFrontendPriority advertises both; on a name collision the
	// frontend's declaration wins.
	MergeFrontendPriority ToolMergeMode = "MERGE_FRONTEND_PRIORITY"
)

// Config tunes the run endpoint. Start from DefaultConfig and override
// fields; the zero value disables tool-call argument passthrough.
type Config struct {
	// ToolMergeMode resolves frontend-declared tools against the
	// agent's own. Empty means MERGE_FRONTEND_PRIORITY.
	ToolMergeMode ToolMergeMode
	// EmitStateEvents adds a StateSnapshot after RunStarted and a
	// StateDelta before RunFinished when the state changed.
	EmitStateEvents bool
	// EmitToolCallArgs forwards raw tool arguments as ToolCallArgs.
	EmitToolCallArgs bool
	// EnableReasoning forwards model thinking as ReasoningMessage
	// events. Off by default: reasoning often contains internal detail.
	EnableReasoning bool
	// RunTimeout aborts runs exceeding the wall-clock budget; zero
	// means no timeout.
	RunTimeout time.Duration
	// DefaultAgentID serves requests that name no agent.
	DefaultAgentID string
}

// DefaultConfig returns the standard endpoint configuration.
func DefaultConfig() Config {
	return Config{
		ToolMergeMode:    MergeFrontendPriority,
		EmitToolCallArgs: true,
	}
}

// Server exposes agent runs over HTTP: POST /agui/run and
// POST /agui/run/{agentId} answer with an SSE stream of protocol
// events. Run failures travel inside the stream; only malformed
// requests produce a non-200 status.
type Server struct {
	resolver AgentResolver
	cfg      Config
	logger   *slog.Logger
	addr     string
	mux      *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLogger sets the logger. Defaults to a no-op logger.
func ServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer builds the run endpoint around a resolver.
func NewServer(resolver AgentResolver, cfg Config, opts ...ServerOption) *Server {
	if cfg.ToolMergeMode == "" {
		cfg.ToolMergeMode = MergeFrontendPriority
	}
	s := &Server{
		resolver: resolver,
		cfg:      cfg,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agui/run", s.handleRun)
	mux.HandleFunc("POST /agui/run/{agentId}", s.handleRun)
	s.mux = mux
	return s
}

// NewServerFromConfigFile loads a TOML config file and builds a server
// from its [server] section. The build callback receives the [memory]
// section as ready-to-use options, so the agents behind the returned
// resolver come up with the configured memory defaults.
func NewServerFromConfigFile(path string, build func(memoryOpts []loom.MemoryOption) (AgentResolver, error), opts ...ServerOption) (*Server, error) {
	fileCfg := config.Load(path)

	resolver, err := build(memoryOptions(fileCfg.Memory))
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if fileCfg.Server.ToolMergeMode != "" {
		cfg.ToolMergeMode = ToolMergeMode(fileCfg.Server.ToolMergeMode)
	}
	cfg.EmitStateEvents = fileCfg.Server.EmitStateEvents
	cfg.EmitToolCallArgs = fileCfg.Server.EmitToolCallArgs
	cfg.EnableReasoning = fileCfg.Server.EnableReasoning
	cfg.DefaultAgentID = fileCfg.Server.DefaultAgent
	if fileCfg.Server.RunTimeoutSecs > 0 {
		cfg.RunTimeout = time.Duration(fileCfg.Server.RunTimeoutSecs) * time.Second
	}

	server := NewServer(resolver, cfg, opts...)
	server.addr = fileCfg.Server.Addr
	return server, nil
}

// memoryOptions converts the [memory] config section into
// AutoContextMemory options, skipping unset fields.
func memoryOptions(mc config.Memory) []loom.MemoryOption {
	var opts []loom.MemoryOption
	if mc.MsgThreshold > 0 {
		opts = append(opts, loom.MemoryMsgThreshold(mc.MsgThreshold))
	}
	if mc.MaxTokens > 0 {
		opts = append(opts, loom.MemoryMaxTokens(mc.MaxTokens))
	}
	if mc.TokenRatio > 0 {
		opts = append(opts, loom.MemoryTokenRatio(mc.TokenRatio))
	}
	if mc.LastKeep > 0 {
		opts = append(opts, loom.MemoryLastKeep(mc.LastKeep))
	}
	if mc.MinToolRun > 0 {
		opts = append(opts, loom.MemoryMinToolRun(mc.MinToolRun))
	}
	if mc.LargePayload > 0 {
		opts = append(opts, loom.MemoryLargePayload(mc.LargePayload))
	}
	return opts
}

// Addr returns the listen address from the config file, empty when the
// server was built without one.
func (s *Server) Addr() string { return s.addr }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var in RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	agentID := s.resolveAgentID(r, in)
	resolution, err := s.resolver.Resolve(r.Context(), agentID, in.ThreadID)
	if err != nil || resolution.Agent == nil {
		s.logger.Warn("agent resolution failed", "agent", agentID, "error", err)
		http.Error(w, "unknown agent: "+agentID, http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	threadID := in.ThreadID
	if threadID == "" {
		threadID = loom.NewID()
	}
	runID := in.RunID
	if runID == "" {
		runID = loom.NewID()
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	if s.cfg.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	msgs := in.toMessages()
	if resolution.ThreadHasMemory {
		msgs = latestUser(msgs)
	}
	run := loom.RunInput{Messages: msgs}
	switch s.cfg.ToolMergeMode {
	case MergeAgentOnly:
	case MergeFrontendOnly:
		run.ClientTools = toDefinitions(in.Tools)
		run.ExcludeAgentTools = true
	default:
		run.ClientTools = toDefinitions(in.Tools)
	}

	started := time.Now()
	s.logger.Debug("run started", "agent", agentID, "thread", threadID, "run", runID)

	tr := NewTranslator(threadID, runID, s.cfg)
	if s.cfg.EmitStateEvents {
		tr.StateFn = agentState(resolution.Agent)
	}
	writeEvents(w, flusher, tr.Start())

	stream := resolution.Agent.StreamRun(ctx, run)
	defer stream.Close()
	for ev := range stream.Events() {
		writeEvents(w, flusher, tr.Translate(ev))
	}

	runErr := stream.Err()
	if runErr != nil && s.cfg.RunTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		runErr = &loom.ErrTimeout{After: s.cfg.RunTimeout.String()}
	}
	writeEvents(w, flusher, tr.Finish(runErr))

	if runErr != nil {
		s.logger.Warn("run failed", "agent", agentID, "run", runID, "error", runErr, "duration", time.Since(started))
		return
	}
	s.logger.Debug("run finished", "agent", agentID, "run", runID, "duration", time.Since(started))
}

// resolveAgentID applies the override priority: URL path, X-Agent-Id
// header, forwardedProps, configured default, the literal "default".
func (s *Server) resolveAgentID(r *http.Request, in RunAgentInput) string {
	if id := r.PathValue("agentId"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Agent-Id"); id != "" {
		return id
	}
	if id := agentIDFromProps(in.ForwardedProps); id != "" {
		return id
	}
	if s.cfg.DefaultAgentID != "" {
		return s.cfg.DefaultAgentID
	}
	return "default"
}

func writeEvents(w http.ResponseWriter, flusher http.Flusher, events []Event) {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data)
	}
	if len(events) > 0 {
		flusher.Flush()
	}
}

// agentState summarizes an agent's session for state events: plan
// progress plus the memory footprint.
func agentState(agent *loom.Agent) func() map[string]any {
	return func() map[string]any {
		state := map[string]any{}
		if nb := agent.PlanNotebook(); nb != nil {
			if p := nb.Current(); p != nil {
				subtasks := make([]any, 0, len(p.Subtasks))
				for _, st := range p.Subtasks {
					subtasks = append(subtasks, map[string]any{"title": st.Title, "state": string(st.State)})
				}
				state["plan"] = map[string]any{
					"title":    p.Title,
					"state":    string(p.State),
					"subtasks": subtasks,
				}
			}
		}
		if acm, ok := agent.Memory().(*loom.AutoContextMemory); ok {
			ms := acm.State()
			state["memory"] = map[string]any{
				"working":   len(ms.Working),
				"original":  len(ms.Original),
				"offloaded": len(ms.Offload),
			}
		}
		return state
	}
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
