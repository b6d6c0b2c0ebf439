package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lococli/loco/internal/core/llm"
)

// Docs search loop bounds. The soft limit injects a wrap-up reminder; the
// hard limit forces termination with an explicit failure result.
const (
	docsSoftToolCallLimit = 50
	docsHardToolCallLimit = 100
	docsPreviewLines      = 20
)

// Findings is the explicit result a docs search submits. The loop only ever
// terminates through a submit_findings tool call, never through the model
// returning plain text.
type Findings struct {
	Summary  string   `json:"summary"`
	Findings []string `json:"findings"`
	Sources  []string `json:"sources"`
}

// DocsSearchAgent lets the model navigate a local documentation tree via
// tools until it explicitly submits findings.
type DocsSearchAgent struct {
	client   LLMClient
	docsRoot string
	logger   Logger
	observer Observer

	softLimit int
	hardLimit int
}

// NewDocsSearchAgent builds a search agent over docsRoot. An empty or
// missing root makes relevance checks short-circuit to "not relevant".
func NewDocsSearchAgent(client LLMClient, docsRoot string, logger Logger, observer Observer) *DocsSearchAgent {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &DocsSearchAgent{
		client:    client,
		docsRoot:  docsRoot,
		logger:    logger,
		observer:  observer,
		softLimit: docsSoftToolCallLimit,
		hardLimit: docsHardToolCallLimit,
	}
}

// HasDocs reports whether a documentation tree is configured and present.
func (a *DocsSearchAgent) HasDocs() bool {
	if a.docsRoot == "" {
		return false
	}
	info, err := os.Stat(a.docsRoot)
	return err == nil && info.IsDir()
}

const docsRelevanceSystemPrompt = `You decide whether local project documentation could help answer a request.
Call decide_relevance with your verdict.`

var docsRelevanceTool = llm.ToolDefinition{
	Name:        "decide_relevance",
	Description: "Report whether the local docs are worth searching for this request.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"relevant": map[string]any{"type": "boolean"},
		},
		"required": []string{"relevant"},
	},
}

// DecideRelevant asks whether the docs tree is worth searching. Any failure
// degrades to "no search performed"; it never aborts the caller.
func (a *DocsSearchAgent) DecideRelevant(ctx context.Context, request string) bool {
	if !a.HasDocs() {
		return false
	}

	resp, err := a.client.ChatCompletion(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: docsRelevanceSystemPrompt},
			{Role: llm.RoleUser, Content: request},
		},
		Tools:       []llm.ToolDefinition{docsRelevanceTool},
		ToolChoice:  llm.ForceFunction(docsRelevanceTool.Name),
		Temperature: 0,
	})
	if err != nil {
		a.logger.Warn(ctx, "Docs relevance decision failed, skipping search",
			Field("error", err.Error()),
		)
		return false
	}

	call, ok := resp.SingleToolCall()
	if !ok {
		return false
	}
	var args struct {
		Relevant bool `json:"relevant"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return false
	}
	return args.Relevant
}

const docsSearchSystemPrompt = `You are a documentation navigator. Explore the docs tree with the
provided tools to answer the request. When you have what you need, call
submit_findings with a summary, the key findings, and the source paths you
used. submit_findings is the only way to finish.`

func docsSearchTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "list_dir",
			Description: "List entries of a directory inside the docs tree.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Directory relative to the docs root; empty for the root"},
				},
			},
		},
		{
			Name:        "read_file",
			Description: "Read a documentation file in full.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "preview_file",
			Description: "Read only the first lines of a documentation file.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "tell_user",
			Description: "Surface an interim note to the user while searching.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"message"},
			},
		},
		{
			Name:        "submit_findings",
			Description: "Finish the search and report what was found.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary":  map[string]any{"type": "string"},
					"findings": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"sources":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"summary"},
			},
		},
	}
}

// Search runs the bounded navigation loop. Every tool call and its result
// are appended to the conversation so the model keeps full navigation
// history.
func (a *DocsSearchAgent) Search(ctx context.Context, request string) (Findings, error) {
	if !a.HasDocs() {
		return Findings{}, fmt.Errorf("docsearch: no documentation tree at %q", a.docsRoot)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: docsSearchSystemPrompt},
		{Role: llm.RoleUser, Content: request},
	}
	searchTools := docsSearchTools()

	toolCalls := 0
	reminded := false

	for {
		if err := ctx.Err(); err != nil {
			return Findings{}, fmt.Errorf("docsearch: %w", err)
		}

		if toolCalls >= a.hardLimit {
			return Findings{}, fmt.Errorf("docsearch: hard limit of %d tool calls reached without submitted findings", a.hardLimit)
		}
		if toolCalls >= a.softLimit && !reminded {
			messages = append(messages, llm.Message{
				Role:    llm.RoleSystem,
				Content: "You are running out of tool calls. Wrap up now and call submit_findings with what you have.",
			})
			reminded = true
		}

		resp, err := a.client.ChatCompletion(ctx, llm.Request{
			Messages:    messages,
			Tools:       searchTools,
			ToolChoice:  llm.RequireToolCall(),
			Temperature: 0,
		})
		if err != nil {
			return Findings{}, fmt.Errorf("docsearch: %w", err)
		}

		call, ok := resp.SingleToolCall()
		if !ok {
			// The model must keep calling tools; remind it and continue.
			messages = append(messages, llm.Message{
				Role:    llm.RoleSystem,
				Content: "Plain responses are ignored here. Use the tools; finish with submit_findings.",
			})
			continue
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{call},
		})
		toolCalls++

		if call.Function.Name == "submit_findings" {
			var findings Findings
			if err := json.Unmarshal([]byte(call.Function.Arguments), &findings); err != nil {
				return Findings{}, fmt.Errorf("docsearch: decode findings: %w", err)
			}
			return findings, nil
		}

		result := a.runNavTool(call.Function.Name, call.Function.Arguments)
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
		})
	}
}

func (a *DocsSearchAgent) runNavTool(name, rawArgs string) string {
	var args struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil && strings.TrimSpace(rawArgs) != "" {
		return "error: invalid arguments: " + err.Error()
	}

	switch name {
	case "list_dir":
		return a.listDir(args.Path)
	case "read_file":
		return a.readFile(args.Path, 0)
	case "preview_file":
		return a.readFile(args.Path, docsPreviewLines)
	case "tell_user":
		a.observer.Emit(Event{
			Type:    EventStatus,
			Message: "docs search: " + args.Message,
			Level:   StatusLevelInfo,
		})
		return "noted"
	default:
		return "error: unknown tool " + name
	}
}

func (a *DocsSearchAgent) resolve(path string) (string, error) {
	rootAbs, err := filepath.Abs(a.docsRoot)
	if err != nil {
		return "", err
	}
	target := filepath.Clean(filepath.Join(rootAbs, path))
	if target != rootAbs && !strings.HasPrefix(target, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes docs tree: %s", path)
	}
	return target, nil
}

func (a *DocsSearchAgent) listDir(path string) string {
	target, err := a.resolve(path)
	if err != nil {
		return "error: " + err.Error()
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return "error: " + err.Error()
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)"
	}
	return strings.Join(names, "\n")
}

func (a *DocsSearchAgent) readFile(path string, maxLines int) string {
	target, err := a.resolve(path)
	if err != nil {
		return "error: " + err.Error()
	}
	content, err := os.ReadFile(target)
	if err != nil {
		return "error: " + err.Error()
	}
	if maxLines <= 0 {
		return string(content)
	}
	lines := strings.Split(string(content), "\n")
	if len(lines) <= maxLines {
		return string(content)
	}
	return strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n… (%d more lines)", len(lines)-maxLines)
}
