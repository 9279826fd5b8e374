package loom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// PlanState is the lifecycle state of a plan.
type PlanState string

const (
	PlanTodo       PlanState = "TODO"
	PlanInProgress PlanState = "IN_PROGRESS"
	PlanDone       PlanState = "DONE"
	PlanAbandoned  PlanState = "ABANDONED"
)

// SubtaskState is the lifecycle state of one plan step.
type SubtaskState string

const (
	SubtaskTodo       SubtaskState = "TODO"
	SubtaskInProgress SubtaskState = "IN_PROGRESS"
	SubtaskDone       SubtaskState = "DONE"
	SubtaskSkipped    SubtaskState = "SKIPPED"
)

// Subtask is one step of a plan.
type Subtask struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Outcome     string       `json:"outcome,omitempty"`
	State       SubtaskState `json:"state"`
}

// Plan is an ordered task breakdown. A running plan has exactly one
// subtask in progress at a time.
type Plan struct {
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ExpectedOutcome string    `json:"expected_outcome,omitempty"`
	Subtasks        []Subtask `json:"subtasks"`
	State           PlanState `json:"state"`
}

// PlanNotebook holds the plan of a session. All mutation goes through
// the notebook so the one-subtask-in-progress invariant holds; the
// plan tools are the intended writers.
type PlanNotebook struct {
	mu   sync.Mutex
	plan *Plan
}

// NewPlanNotebook builds an empty notebook.
func NewPlanNotebook() *PlanNotebook {
	return &PlanNotebook{}
}

// Create starts a new plan. An active plan is abandoned first. The
// plan and its first subtask come up IN_PROGRESS.
func (n *PlanNotebook) Create(p Plan) error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("plan needs a title")
	}
	if len(p.Subtasks) == 0 {
		return errors.New("plan needs at least one subtask")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.plan != nil && n.plan.State == PlanInProgress {
		n.plan.State = PlanAbandoned
	}
	p.State = PlanInProgress
	for i := range p.Subtasks {
		p.Subtasks[i].State = SubtaskTodo
		p.Subtasks[i].Outcome = ""
	}
	p.Subtasks[0].State = SubtaskInProgress
	n.plan = &p
	return nil
}

// Advance closes the subtask in progress with the given outcome, or
// skips it, and moves to the next TODO subtask. When the last subtask
// closes, the plan completes.
func (n *PlanNotebook) Advance(outcome string, skip bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.plan == nil || n.plan.State != PlanInProgress {
		return errors.New("no plan in progress")
	}
	current := -1
	for i := range n.plan.Subtasks {
		if n.plan.Subtasks[i].State == SubtaskInProgress {
			current = i
			break
		}
	}
	if current < 0 {
		return errors.New("plan has no subtask in progress")
	}
	if skip {
		n.plan.Subtasks[current].State = SubtaskSkipped
	} else {
		n.plan.Subtasks[current].State = SubtaskDone
	}
	n.plan.Subtasks[current].Outcome = outcome

	for i := current + 1; i < len(n.plan.Subtasks); i++ {
		if n.plan.Subtasks[i].State == SubtaskTodo {
			n.plan.Subtasks[i].State = SubtaskInProgress
			return nil
		}
	}
	n.plan.State = PlanDone
	return nil
}

// Finish closes the plan. Open subtasks are skipped; abandon marks the
// plan ABANDONED instead of DONE.
func (n *PlanNotebook) Finish(abandon bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.plan == nil || n.plan.State != PlanInProgress {
		return errors.New("no plan in progress")
	}
	for i := range n.plan.Subtasks {
		switch n.plan.Subtasks[i].State {
		case SubtaskTodo, SubtaskInProgress:
			n.plan.Subtasks[i].State = SubtaskSkipped
		}
	}
	if abandon {
		n.plan.State = PlanAbandoned
	} else {
		n.plan.State = PlanDone
	}
	return nil
}

// Current returns a copy of the plan, or nil when none was created.
func (n *PlanNotebook) Current() *Plan {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.copyPlan()
}

// SetPlan replaces the notebook content, used when restoring sessions.
func (n *PlanNotebook) SetPlan(p *Plan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p == nil {
		n.plan = nil
		return
	}
	cp := *p
	cp.Subtasks = append([]Subtask(nil), p.Subtasks...)
	n.plan = &cp
}

func (n *PlanNotebook) copyPlan() *Plan {
	if n.plan == nil {
		return nil
	}
	cp := *n.plan
	cp.Subtasks = append([]Subtask(nil), n.plan.Subtasks...)
	return &cp
}

// Render formats the plan for prompts and tool confirmations. An empty
// notebook renders as the empty string.
func (n *PlanNotebook) Render() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.plan == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s [%s]\n", n.plan.Title, n.plan.State)
	if n.plan.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", n.plan.Description)
	}
	if n.plan.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n", n.plan.ExpectedOutcome)
	}
	for i, st := range n.plan.Subtasks {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, st.State, st.Title)
		if st.Outcome != "" {
			fmt.Fprintf(&b, " (%s)", st.Outcome)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var createPlanToolDef = ToolDefinition{
	Name:        "create_plan",
	Description: "Create a step-by-step plan for the current task. Replaces any plan already in progress.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Short name of the overall task."},
			"description": {"type": "string", "description": "What the task is about."},
			"expected_outcome": {"type": "string", "description": "What done looks like."},
			"subtasks": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"title": {"type": "string"},
						"description": {"type": "string"}
					},
					"required": ["title"]
				}
			}
		},
		"required": ["title", "subtasks"]
	}`),
}

var advanceSubtaskToolDef = ToolDefinition{
	Name:        "advance_subtask",
	Description: "Close the subtask in progress with its outcome and move on to the next one. Set skip to true when the subtask turned out unnecessary.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"outcome": {"type": "string", "description": "What happened in this subtask."},
			"skip": {"type": "boolean", "description": "Mark the subtask skipped instead of done."}
		}
	}`),
}

var finishPlanToolDef = ToolDefinition{
	Name:        "finish_plan",
	Description: "Close the whole plan. Set abandon to true when the plan no longer fits the task.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"abandon": {"type": "boolean", "description": "Mark the plan abandoned instead of done."}
		}
	}`),
}

// PlanTool exposes the notebook to the model as the three plan tools.
func PlanTool(notebook *PlanNotebook) Tool {
	return planTool{notebook: notebook}
}

type planTool struct {
	notebook *PlanNotebook
}

var _ Tool = planTool{}

func (t planTool) Definitions() []ToolDefinition {
	return []ToolDefinition{createPlanToolDef, advanceSubtaskToolDef, finishPlanToolDef}
}

func (t planTool) Invoke(_ context.Context, name string, input map[string]any) ([]Message, error) {
	switch name {
	case createPlanToolDef.Name:
		plan, err := planFromInput(input)
		if err != nil {
			return nil, &ErrTool{Name: name, Message: err.Error()}
		}
		if err := t.notebook.Create(plan); err != nil {
			return nil, &ErrTool{Name: name, Message: err.Error()}
		}
	case advanceSubtaskToolDef.Name:
		outcome, _ := input["outcome"].(string)
		skip, _ := input["skip"].(bool)
		if err := t.notebook.Advance(outcome, skip); err != nil {
			return nil, &ErrTool{Name: name, Message: err.Error()}
		}
	case finishPlanToolDef.Name:
		abandon, _ := input["abandon"].(bool)
		if err := t.notebook.Finish(abandon); err != nil {
			return nil, &ErrTool{Name: name, Message: err.Error()}
		}
	default:
		return nil, &ErrTool{Name: name, Message: "unknown tool: " + name}
	}
	return []Message{NewMessage(RoleTool, TextBlock{Text: t.notebook.Render()})}, nil
}

func planFromInput(input map[string]any) (Plan, error) {
	title, _ := input["title"].(string)
	description, _ := input["description"].(string)
	outcome, _ := input["expected_outcome"].(string)
	rawSubtasks, _ := input["subtasks"].([]any)
	plan := Plan{Title: title, Description: description, ExpectedOutcome: outcome}
	for _, raw := range rawSubtasks {
		entry, ok := raw.(map[string]any)
		if !ok {
			return Plan{}, errors.New("subtasks must be objects")
		}
		st := Subtask{}
		st.Title, _ = entry["title"].(string)
		st.Description, _ = entry["description"].(string)
		plan.Subtasks = append(plan.Subtasks, st)
	}
	return plan, nil
}
