package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lococli/loco/internal/core/llm"
)

// Registry manages the set of tools exposed to the model. Tools may be
// registered individually or as named groups; execution always validates the
// serialized arguments against the tool's schema first.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	groups map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		groups: make(map[string][]string),
	}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// MustRegister adds a tool and panics on conflict. Used for built-ins at
// construction time only.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// RegisterGroup associates a group name with a set of tool names. Members do
// not have to be registered yet.
func (r *Registry) RegisterGroup(group string, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group] = append([]string(nil), names...)
}

// Group resolves a group to its registered tools, skipping unknown members.
func (r *Registry) Group(group string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Tool
	for _, name := range r.groups[group] {
		if tool, ok := r.tools[name]; ok {
			result = append(result, tool)
		}
	}
	return result
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether every named tool is registered.
func (r *Registry) Has(names ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if _, ok := r.tools[name]; !ok {
			return false
		}
	}
	return true
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the JSON-schema definitions for every registered tool
// in name order, ready for inclusion in an LLM request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Describe renders a human-readable description of a prospective call, used
// by risk analysis. Tools may customize it via the Describer interface.
func (r *Registry) Describe(name string, rawArgs string) string {
	tool, ok := r.Get(name)
	if !ok {
		return name
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		return name
	}
	if d, ok := tool.(Describer); ok {
		if desc := strings.TrimSpace(d.Describe(args)); desc != "" {
			return desc
		}
	}

	parts := make([]string, 0, len(args))
	for key, value := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}
	sort.Strings(parts)
	return strings.TrimSpace(name + " " + strings.Join(parts, " "))
}

// Execute validates the serialized arguments against the tool's schema and
// runs the tool. Unknown tools and schema violations come back as failed
// Results, never as panics; the orchestrator records them as non-fatal step
// outcomes.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs string) Result {
	tool, ok := r.Get(name)
	if !ok {
		return errResultf("tools: unknown tool: %s", name)
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		return errResultf("tools: %s: invalid argument JSON: %v", name, err)
	}

	if err := validateAgainstSchema(tool.Definition(), args); err != nil {
		return errResultf("tools: %s: %v", name, err)
	}

	return tool.Execute(ctx, args)
}

func decodeArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func validateAgainstSchema(def llm.ToolDefinition, args map[string]any) error {
	if def.Parameters == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(def.Parameters),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("arguments failed schema validation: %s", strings.Join(issues, "; "))
}
