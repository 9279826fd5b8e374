package loom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RAGMode selects how a knowledge base joins the loop.
type RAGMode string

const (
	// RAGGeneric retrieves once per run and prepends the hits as a
	// system context message.
	RAGGeneric RAGMode = "GENERIC"
	// RAGAgentic exposes retrieval as a tool the model calls itself.
	RAGAgentic RAGMode = "AGENTIC"
)

// Document is one unit of ingestible knowledge.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KnowledgeResult is one ranked retrieval hit.
type KnowledgeResult struct {
	Document Document
	Score    float64
}

// RetrievalConfig bounds a knowledge query.
type RetrievalConfig struct {
	Limit          int
	ScoreThreshold float64
}

// Knowledge is a retrievable document store, typically backed by a
// vector index outside the core.
type Knowledge interface {
	AddDocuments(ctx context.Context, docs ...Document) error
	Retrieve(ctx context.Context, query string, cfg RetrievalConfig) ([]KnowledgeResult, error)
}

var retrieveKnowledgeToolDef = ToolDefinition{
	Name:        "retrieve_knowledge",
	Description: "Search the attached knowledge base for passages relevant to a query.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to search for."}
		},
		"required": ["query"]
	}`),
}

// KnowledgeTool exposes a Knowledge base as a retrieval tool for
// AGENTIC mode.
func KnowledgeTool(kb Knowledge, cfg RetrievalConfig) Tool {
	return knowledgeTool{kb: kb, cfg: cfg}
}

type knowledgeTool struct {
	kb  Knowledge
	cfg RetrievalConfig
}

var _ Tool = knowledgeTool{}

func (t knowledgeTool) Definitions() []ToolDefinition {
	return []ToolDefinition{retrieveKnowledgeToolDef}
}

func (t knowledgeTool) Invoke(ctx context.Context, name string, input map[string]any) ([]Message, error) {
	if name != retrieveKnowledgeToolDef.Name {
		return nil, &ErrTool{Name: name, Message: "unknown tool: " + name}
	}
	query, _ := input["query"].(string)
	results, err := t.kb.Retrieve(ctx, query, t.cfg)
	if err != nil {
		return nil, &ErrTool{Name: name, Message: err.Error()}
	}
	if len(results) == 0 {
		return []Message{NewMessage(RoleTool, TextBlock{Text: "no relevant passages found"})}, nil
	}
	return []Message{NewMessage(RoleTool, TextBlock{Text: renderKnowledge(results)})}, nil
}

func renderKnowledge(results []KnowledgeResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. (score %.2f) %s", i+1, r.Score, r.Document.Content)
	}
	return b.String()
}
