// Package loom implements an agent runtime: a provider-neutral message
// and content model, a ReAct-style reasoning loop with streaming events
// and parallel tool dispatch, short-term memory with automatic context
// compression, and pluggable long-term memory and knowledge retrieval.
//
// Subpackages adapt the core to the outside world: agui serves agents
// over the AG-UI server-sent-events protocol, format/openaicompat
// renders messages for OpenAI-compatible chat APIs, store persists
// sessions, and observer wires OpenTelemetry exporters.
package loom
