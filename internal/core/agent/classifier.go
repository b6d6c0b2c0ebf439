package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lococli/loco/internal/core/llm"
)

// LLMClient is the opaque chat-completion boundary the orchestration core
// depends on. Retries for transient failures belong to the implementation;
// any error it returns is treated as recoverable here.
type LLMClient interface {
	ChatCompletion(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Classification is the triage verdict for one request.
type Classification struct {
	NeedsPlan bool
	Reason    string
}

// Classifier makes the LLM-backed binary decision: does this request need a
// multi-step plan, or a single direct answer?
type Classifier struct {
	client LLMClient
}

// NewClassifier wires the classifier to its LLM collaborator.
func NewClassifier(client LLMClient) *Classifier {
	return &Classifier{client: client}
}

const classifySystemPrompt = `You triage requests for a coding assistant.
Decide whether the request needs a multi-step task plan or a single direct answer.
Simple questions, explanations, and one-shot lookups are "direct".
Anything requiring several file edits, commands, or ordered steps is "plan".
Call the classify_request tool with your decision.`

var classifyTool = llm.ToolDefinition{
	Name:        "classify_request",
	Description: "Report whether the request needs a multi-step plan or a direct answer.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []string{"plan", "direct"},
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "One short sentence explaining the decision",
			},
		},
		"required": []string{"mode"},
	},
}

// Classify returns the triage decision for the request. Errors are surfaced
// to the caller, which treats them as recoverable (falling back to planning).
func (c *Classifier) Classify(ctx context.Context, request string) (Classification, error) {
	resp, err := c.client.ChatCompletion(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifySystemPrompt},
			{Role: llm.RoleUser, Content: request},
		},
		Tools:       []llm.ToolDefinition{classifyTool},
		ToolChoice:  llm.ForceFunction(classifyTool.Name),
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classifier: %w", err)
	}

	call, ok := resp.SingleToolCall()
	if !ok {
		return Classification{}, fmt.Errorf("classifier: assistant did not call %s", classifyTool.Name)
	}

	var args struct {
		Mode   string `json:"mode"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return Classification{}, fmt.Errorf("classifier: decode arguments: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(args.Mode)) {
	case "direct":
		return Classification{NeedsPlan: false, Reason: args.Reason}, nil
	case "plan":
		return Classification{NeedsPlan: true, Reason: args.Reason}, nil
	default:
		return Classification{}, fmt.Errorf("classifier: unknown mode %q", args.Mode)
	}
}
