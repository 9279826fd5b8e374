package loom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolDefinition describes one callable tool to the model. Parameters
// is a JSON Schema document for the tool's arguments.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool executes one or more named operations for the agent loop. The
// returned messages supply the content of the tool result; an error is
// surfaced to the model as error text rather than raised.
type Tool interface {
	Definitions() []ToolDefinition
	Invoke(ctx context.Context, name string, input map[string]any) ([]Message, error)
}

// ToolFunc adapts a plain function into a single-definition Tool.
type ToolFunc struct {
	Definition ToolDefinition
	Fn         func(ctx context.Context, input map[string]any) ([]Message, error)
}

var _ Tool = ToolFunc{}

func (t ToolFunc) Definitions() []ToolDefinition {
	return []ToolDefinition{t.Definition}
}

func (t ToolFunc) Invoke(ctx context.Context, name string, input map[string]any) ([]Message, error) {
	if name != t.Definition.Name {
		return nil, &ErrTool{Name: name, Message: "unknown tool: " + name}
	}
	return t.Fn(ctx, input)
}

// ToolRegistry aggregates tools, validates arguments against their
// parameter schemas, and dispatches invocations by name. A registry is
// itself a Tool, so toolkits compose.
type ToolRegistry struct {
	tools   []Tool
	byName  map[string]Tool
	schemas map[string]*jsonschema.Schema
	defs    []ToolDefinition
}

var _ Tool = (*ToolRegistry)(nil)

// NewToolRegistry builds a registry from the given tools. It fails on
// duplicate tool names or invalid parameter schemas.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{}
	for _, t := range tools {
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers every definition of t.
func (r *ToolRegistry) Add(t Tool) error {
	if r.byName == nil {
		r.byName = make(map[string]Tool)
		r.schemas = make(map[string]*jsonschema.Schema)
	}
	for _, def := range t.Definitions() {
		if _, exists := r.byName[def.Name]; exists {
			return &ErrConfig{Reason: "duplicate tool " + def.Name}
		}
		if len(def.Parameters) > 0 {
			schema, err := compileSchema(def.Name, def.Parameters)
			if err != nil {
				return &ErrConfig{Reason: fmt.Sprintf("tool %s has an invalid parameters schema: %v", def.Name, err)}
			}
			r.schemas[def.Name] = schema
		}
		r.byName[def.Name] = t
		r.defs = append(r.defs, def)
	}
	r.tools = append(r.tools, t)
	return nil
}

// Definitions returns every registered definition in registration
// order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Has reports whether a tool with the given name is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Len reports the number of registered definitions.
func (r *ToolRegistry) Len() int {
	return len(r.defs)
}

// Invoke validates input against the tool's schema and dispatches.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, input map[string]any) ([]Message, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, &ErrTool{Name: name, Message: "unknown tool: " + name}
	}
	if input == nil {
		input = map[string]any{}
	}
	if schema, ok := r.schemas[name]; ok {
		if err := validateInput(schema, input); err != nil {
			return nil, &ErrTool{Name: name, Message: "invalid arguments: " + err.Error()}
		}
	}
	return t.Invoke(ctx, name, input)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func validateInput(schema *jsonschema.Schema, input map[string]any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(v)
}
