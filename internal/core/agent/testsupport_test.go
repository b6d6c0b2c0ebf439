package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/lococli/loco/internal/core/llm"
)

// scriptedClient replays canned responses in order. A nil entry yields an
// error, and fn (when set) intercepts every call first.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     []llm.Request
	fn        func(req llm.Request) (*llm.Response, error)
}

func (c *scriptedClient) ChatCompletion(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if c.fn != nil {
		return c.fn(req)
	}
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", len(c.calls))
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	if next == nil {
		return nil, fmt.Errorf("scripted failure")
	}
	return next, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func textResponse(content string) *llm.Response {
	return &llm.Response{
		Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}},
	}
}

func withUsage(resp *llm.Response, promptTokens int) *llm.Response {
	resp.Usage = llm.Usage{PromptTokens: promptTokens, TotalTokens: promptTokens}
	return resp
}

func toolCallResponse(name, args string) *llm.Response {
	return &llm.Response{
		Choices: []llm.Choice{{
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       "call-1",
					Type:     "function",
					Function: llm.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
}
