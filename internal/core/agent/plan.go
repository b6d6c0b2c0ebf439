package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lococli/loco/internal/core/tools"
)

// Plan is the dependency-ordered set of TodoItems generated for one user
// request. Dependency ids must reference ids present in the same plan and
// must not form cycles; plans violating either invariant are rejected before
// any execution begins, never repaired.
type Plan struct {
	mu    sync.Mutex
	items []TodoItem
	// direct carries the assistant's answer when planning chose to respond
	// directly; such plans have zero items.
	direct string
	// sealed marks the plan terminated; further updates are refused.
	sealed bool
}

// NewPlan builds a plan from validated items.
func NewPlan(items []TodoItem) *Plan {
	copied := make([]TodoItem, len(items))
	copy(copied, items)
	for i := range copied {
		if copied[i].Status == "" {
			copied[i].Status = TodoPending
		}
	}
	return &Plan{items: copied}
}

// NewDirectPlan builds a zero-task plan carrying a direct response.
func NewDirectPlan(response string) *Plan {
	return &Plan{direct: response}
}

// DirectResponse returns the direct-mode answer, if any.
func (p *Plan) DirectResponse() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.direct
}

// IsDirect reports whether this plan is a zero-task direct response.
func (p *Plan) IsDirect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items) == 0 && p.direct != ""
}

// Items returns a copy of the plan items.
func (p *Plan) Items() []TodoItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TodoItem, len(p.items))
	copy(out, p.items)
	return out
}

// Len returns the number of items.
func (p *Plan) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Seal terminates the plan; TODO items are immutable afterwards.
func (p *Plan) Seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// AllTerminal reports whether every item reached a terminal status.
func (p *Plan) AllTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		if !item.Status.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns total, completed, and failed item counts.
func (p *Plan) Counts() (total, completed, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total = len(p.items)
	for _, item := range p.items {
		switch item.Status {
		case TodoCompleted:
			completed++
		case TodoFailed:
			failed++
		}
	}
	return total, completed, failed
}

// ApplyUpdates implements the update_todos tool contract. Updates are
// applied sequentially in array order; each is independent of the others'
// success or failure.
func (p *Plan) ApplyUpdates(updates []tools.TodoUpdate) []tools.TodoUpdateOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	outcomes := make([]tools.TodoUpdateOutcome, 0, len(updates))
	for _, update := range updates {
		outcome := tools.TodoUpdateOutcome{ID: update.ID}
		if p.sealed {
			outcome.Reason = "plan has terminated"
			outcomes = append(outcomes, outcome)
			continue
		}

		idx := -1
		for i := range p.items {
			if p.items[i].ID == update.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			outcome.Reason = "unknown todo id"
			outcomes = append(outcomes, outcome)
			continue
		}

		status := TodoStatus(update.Status)
		switch status {
		case TodoPending, TodoInProgress, TodoCompleted, TodoFailed:
		default:
			outcome.Reason = fmt.Sprintf("invalid status %q", update.Status)
			outcomes = append(outcomes, outcome)
			continue
		}

		p.items[idx].Status = status
		if update.Result != "" {
			p.items[idx].Result = update.Result
		}
		if update.Error != "" {
			p.items[idx].Error = update.Error
		}
		outcome.Applied = true
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// StatusLine renders the current TODO state for folding into the last
// user-visible message. It is never persisted back into history.
func (p *Plan) StatusLine() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Current TODO list:\n")
	for _, item := range p.items {
		marker := " "
		switch item.Status {
		case TodoInProgress:
			marker = ">"
		case TodoCompleted:
			marker = "x"
		case TodoFailed:
			marker = "!"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s (%s)", marker, item.ID, item.Title, item.Status))
		if len(item.Dependencies) > 0 {
			sb.WriteString(" deps=" + strings.Join(item.Dependencies, ","))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ValidateDependencies checks that every dependency id exists in the item
// set and that the dependency graph is acyclic. The first violation found is
// returned.
func ValidateDependencies(items []TodoItem) error {
	index := make(map[string]int, len(items))
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("plan: item %d has an empty id", i)
		}
		if _, dup := index[item.ID]; dup {
			return fmt.Errorf("plan: duplicate todo id %q", item.ID)
		}
		index[item.ID] = i
	}

	for _, item := range items {
		for _, dep := range item.Dependencies {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("plan: todo %q depends on unknown id %q", item.ID, dep)
			}
		}
	}

	// Depth-first cycle check with a recursion-stack set.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(items))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("plan: dependency cycle involving %q", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range items[index[id]].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, item := range items {
		if err := visit(item.ID); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalOrder returns the items sorted so that dependency-free items
// come first and no item precedes any of its dependencies. Items must have
// passed ValidateDependencies; the ordering is stable for items with equal
// depth.
func TopologicalOrder(items []TodoItem) []TodoItem {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}

	visited := make(map[string]bool, len(items))
	ordered := make([]TodoItem, 0, len(items))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range items[index[id]].Dependencies {
			if _, ok := index[dep]; ok {
				visit(dep)
			}
		}
		ordered = append(ordered, items[index[id]])
	}

	for _, item := range items {
		visit(item.ID)
	}
	return ordered
}
