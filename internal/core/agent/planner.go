package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lococli/loco/internal/core/llm"
)

// PlanningEngine decomposes a request into an ordered, dependency-validated
// TODO plan via a forced tool-call contract: the model must answer with
// either create_todos or respond_directly.
type PlanningEngine struct {
	client LLMClient
	logger Logger
}

// NewPlanningEngine wires the engine to its LLM collaborator.
func NewPlanningEngine(client LLMClient, logger Logger) *PlanningEngine {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PlanningEngine{client: client, logger: logger}
}

const planningSystemPrompt = `You plan work for a coding assistant.
Break the request into a short ordered TODO list by calling create_todos.
Give each todo a unique short id (e.g. "t1") and list dependency ids only when one todo genuinely requires another's output.
If the request needs no plan after all, call respond_directly with the answer instead.
You must call exactly one of the two tools.`

var createTodosTool = llm.ToolDefinition{
	Name:        "create_todos",
	Description: "Create the TODO plan for this request.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string"},
						"title": map[string]any{"type": "string"},
						"dependencies": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []string{"id", "title"},
				},
				"minItems": 1,
			},
		},
		"required": []string{"todos"},
	},
}

var respondDirectlyTool = llm.ToolDefinition{
	Name:        "respond_directly",
	Description: "Answer the request directly without a plan.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"response": map[string]any{"type": "string"},
		},
		"required": []string{"response"},
	},
}

// GeneratePlan asks the model for a plan. A respond_directly answer comes
// back as a zero-task plan carrying the response; callers treat that as
// direct mode, not as a planning failure. Invalid dependency graphs
// (missing ids, cycles) fall back to a single catch-all TodoItem wrapping
// the raw request.
func (e *PlanningEngine) GeneratePlan(ctx context.Context, request string, history []Message) (*Plan, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: planningSystemPrompt}}
	messages = append(messages, wireMessages(recentContext(history, 10))...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: request})

	resp, err := e.client.ChatCompletion(ctx, llm.Request{
		Messages:    messages,
		Tools:       []llm.ToolDefinition{createTodosTool, respondDirectlyTool},
		ToolChoice:  llm.RequireToolCall(),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	call, ok := resp.SingleToolCall()
	if !ok {
		// The model ignored the forced contract; salvage its text as a
		// direct response when present.
		if content := strings.TrimSpace(resp.Content()); content != "" {
			return NewDirectPlan(content), nil
		}
		return nil, fmt.Errorf("planner: assistant called no tool")
	}

	switch call.Function.Name {
	case respondDirectlyTool.Name:
		var args struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("planner: decode respond_directly: %w", err)
		}
		return NewDirectPlan(args.Response), nil

	case createTodosTool.Name:
		items, err := decodeTodos(call.Function.Arguments)
		if err != nil {
			e.logger.Warn(ctx, "Plan decode failed, falling back to catch-all todo",
				Field("error", err.Error()),
			)
			return catchAllPlan(request), nil
		}
		if err := ValidateDependencies(items); err != nil {
			e.logger.Warn(ctx, "Plan rejected by dependency validation, falling back to catch-all todo",
				Field("error", err.Error()),
			)
			return catchAllPlan(request), nil
		}
		return NewPlan(TopologicalOrder(items)), nil

	default:
		return nil, fmt.Errorf("planner: unexpected tool %q", call.Function.Name)
	}
}

func decodeTodos(raw string) ([]TodoItem, error) {
	var args struct {
		Todos []struct {
			ID           string   `json:"id"`
			Title        string   `json:"title"`
			Dependencies []string `json:"dependencies"`
		} `json:"todos"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if len(args.Todos) == 0 {
		return nil, fmt.Errorf("empty todo list")
	}

	items := make([]TodoItem, 0, len(args.Todos))
	for _, t := range args.Todos {
		items = append(items, TodoItem{
			ID:           strings.TrimSpace(t.ID),
			Title:        strings.TrimSpace(t.Title),
			Status:       TodoPending,
			Dependencies: t.Dependencies,
		})
	}
	return items, nil
}

// catchAllPlan wraps the raw request in a single todo, the fallback when a
// generated plan is rejected.
func catchAllPlan(request string) *Plan {
	return NewPlan([]TodoItem{{
		ID:     "t1",
		Title:  request,
		Status: TodoPending,
	}})
}

// recentContext returns up to n trailing history messages, skipping tool
// plumbing so the planner sees conversational context only.
func recentContext(history []Message, n int) []Message {
	var filtered []Message
	for _, msg := range history {
		if msg.Role == RoleTool || len(msg.ToolCalls) > 0 {
			continue
		}
		filtered = append(filtered, msg)
	}
	if len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}
