package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lococli/loco/internal/core/llm"
)

// TodoUpdate is a single status mutation inside a batch update.
type TodoUpdate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TodoUpdateOutcome reports whether one update in a batch was applied.
// Updates in a batch are independent; one failure does not abort the rest.
type TodoUpdateOutcome struct {
	ID      string `json:"id"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// TodoStore is the TODO mutation contract the orchestrator implements.
// Updates are applied sequentially in array order.
type TodoStore interface {
	ApplyUpdates(updates []TodoUpdate) []TodoUpdateOutcome
}

// UpdateTodosTool is the only path through which the model mutates the Plan.
type UpdateTodosTool struct {
	store TodoStore
}

// NewUpdateTodosTool wires the update_todos tool to the given store.
func NewUpdateTodosTool(store TodoStore) *UpdateTodosTool {
	return &UpdateTodosTool{store: store}
}

func (t *UpdateTodosTool) Name() string { return "update_todos" }

func (t *UpdateTodosTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Update the status of one or more TODO items. Statuses: pending, in_progress, completed, failed.",
		Parameters: buildParameters([]ParameterDef{
			{
				Name:        "updates",
				Type:        "array",
				Description: "Batch of TODO status updates, applied in order",
				Required:    true,
				Items: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":     map[string]any{"type": "string", "description": "TODO item id"},
						"status": map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed", "failed"}},
						"result": map[string]any{"type": "string", "description": "Optional result annotation"},
						"error":  map[string]any{"type": "string", "description": "Optional error annotation"},
					},
					"required": []string{"id", "status"},
				},
			},
		}),
	}
}

func (t *UpdateTodosTool) Execute(_ context.Context, args map[string]any) Result {
	raw, err := json.Marshal(args["updates"])
	if err != nil {
		return errResultf("encode updates: %v", err)
	}
	var updates []TodoUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		return errResultf("decode updates: %v", err)
	}
	if len(updates) == 0 {
		return errResultf("updates must not be empty")
	}
	if t.store == nil {
		return errResultf("no plan is active")
	}

	outcomes := t.store.ApplyUpdates(updates)

	var applied, skipped int
	var lines []string
	for _, outcome := range outcomes {
		if outcome.Applied {
			applied++
			lines = append(lines, fmt.Sprintf("%s: updated", outcome.ID))
			continue
		}
		skipped++
		lines = append(lines, fmt.Sprintf("%s: skipped (%s)", outcome.ID, outcome.Reason))
	}

	summary := fmt.Sprintf("applied %d update(s)", applied)
	if skipped > 0 {
		summary += fmt.Sprintf(", skipped %d", skipped)
	}
	return okResult(summary + "\n" + strings.Join(lines, "\n"))
}
