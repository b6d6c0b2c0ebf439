// Package tools holds the tool contracts available to the orchestration
// engine: file I/O, shell execution, and TODO mutation. Arguments are
// validated against each tool's JSON schema before execution so malformed
// calls are rejected at the boundary rather than at arbitrary downstream
// points.
package tools

import (
	"context"
	"fmt"

	"github.com/lococli/loco/internal/core/llm"
)

// Result is the immutable outcome of a single tool execution.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Tool is the contract every executable tool satisfies.
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, args map[string]any) Result
}

// Describer is an optional interface for tools that can render a
// human-readable description of a prospective call for risk analysis.
type Describer interface {
	Describe(args map[string]any) string
}

// ParameterDef describes one parameter when building JSON-schema tool
// definitions.
type ParameterDef struct {
	Name        string
	Type        string // "string", "integer", "boolean", "array", "object"
	Description string
	Required    bool
	Items       map[string]any // schema for array items, when Type == "array"
}

// buildParameters assembles an object schema from parameter definitions.
func buildParameters(params []ParameterDef) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" && p.Items != nil {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func okResult(content string) Result {
	return Result{Success: true, Content: content}
}

func errResult(err error) Result {
	if err == nil {
		return Result{Error: "unknown error"}
	}
	return Result{Error: err.Error()}
}

func errResultf(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// intArg extracts an integer argument with a default value. JSON decoding
// yields float64, so both shapes are accepted.
func intArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return fallback
}

// boolArg extracts a boolean argument with a default value.
func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}
