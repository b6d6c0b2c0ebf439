// Package agent implements the orchestration engine: the state machine that
// turns a single user request into a sequence of LLM calls and tool
// invocations, tracked as a dependency-aware TODO plan, gated by risk
// approval, and kept inside a bounded context window through compaction.
package agent

import (
	"time"

	"github.com/lococli/loco/internal/core/llm"
)

// Message roles, matching the chat-completion wire contract.
const (
	RoleSystem    = llm.RoleSystem
	RoleUser      = llm.RoleUser
	RoleAssistant = llm.RoleAssistant
	RoleTool      = llm.RoleTool
)

// Message is one entry of the conversation history. The history is owned
// exclusively by the active executor run; messages are appended in strict
// causal order and never mutated after creation, except by compaction.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	// Summarized marks messages synthesized by the compactor so they are
	// never summarized a second time.
	Summarized bool `json:"summarized,omitempty"`
}

// toWire strips orchestration-only fields for the LLM request.
func (m Message) toWire() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
	}
}

func wireMessages(history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, m.toWire())
	}
	return out
}

// TodoStatus is the lifecycle state of one plan item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoFailed     TodoStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s TodoStatus) Terminal() bool {
	return s == TodoCompleted || s == TodoFailed
}

// TodoItem is a single planned step. Items are created by the planning
// engine and mutated only through the update_todos tool contract.
type TodoItem struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       TodoStatus `json:"status"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// Phase is the executor's current position in its state machine. Exactly one
// phase is active at a time for a session.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseClassifying Phase = "classifying"
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseCompacting  Phase = "compacting"
)

// ContextUsage is the tracker's view of the conversation token budget.
type ContextUsage struct {
	CurrentTokens       int     `json:"current_tokens"`
	MaxTokens           int     `json:"max_tokens"`
	RemainingPercentage float64 `json:"remaining_percentage"`
}

// Complexity grades a routing task.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityMeta     Complexity = "meta"
)

// Task is the execution-layer routing unit. It is ephemeral: constructed per
// routing decision, never persisted.
type Task struct {
	ID          string
	Description string
	Complexity  Complexity

	NeedsTools          bool
	NeedsDynamicCode    bool
	NeedsParallelism    bool
	NeedsSkill          bool
	NeedsBehaviorChange bool
	NeedsSystemAccess   bool

	Tools    []string
	Subtasks []string
}
