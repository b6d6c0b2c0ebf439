// Package llm implements the OpenAI-compatible chat-completion client used by
// the orchestration core. The core treats this package as an opaque
// request/response boundary; any error it returns is recoverable from the
// caller's point of view.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Role values accepted by the chat-completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single wire-level chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is an assistant-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is the JSON-schema style description of a callable tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice forces the model to call a specific function when set.
type ToolChoice struct {
	Type     string              `json:"type"`
	Function *ToolChoiceFunction `json:"function,omitempty"`
}

// ToolChoiceFunction names the forced function.
type ToolChoiceFunction struct {
	Name string `json:"name"`
}

// MarshalJSON renders bare modes ("auto", "required", "none") as strings and
// function choices as objects, matching the endpoint contract.
func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	if tc.Function == nil {
		return json.Marshal(tc.Type)
	}
	type wire struct {
		Type     string              `json:"type"`
		Function *ToolChoiceFunction `json:"function"`
	}
	return json.Marshal(wire{Type: tc.Type, Function: tc.Function})
}

// ForceFunction builds a tool choice that forces the named function.
func ForceFunction(name string) *ToolChoice {
	return &ToolChoice{Type: "function", Function: &ToolChoiceFunction{Name: name}}
}

// RequireToolCall builds a tool choice demanding some tool call.
func RequireToolCall() *ToolChoice {
	return &ToolChoice{Type: "required"}
}

// Request mirrors the chat-completion payload the endpoint expects.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  *ToolChoice
	Temperature float64
	MaxTokens   int
}

// Choice is a single completion candidate.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the decoded completion result.
type Response struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
}

// Option mutates client construction.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig overrides the default retry behaviour.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient configures a client for the given endpoint, key, and model.
// baseURL may point at any OpenAI-compatible server; an empty value targets
// the public OpenAI API.
func NewClient(baseURL, apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if model == "" {
		return nil, errors.New("llm: model is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model reports the configured model identifier.
func (c *Client) Model() string { return c.model }

type wireRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	ToolChoice  any        `json:"tool_choice,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

// ChatCompletion sends the request and decodes the first-class response.
// Transient transport failures and 5xx/429 statuses are retried with
// exponential backoff before the error is surfaced.
func (c *Client) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	payload := wireRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, wireTool{Type: "function", Function: tool})
	}
	if req.ToolChoice != nil {
		payload.ToolChoice = req.ToolChoice
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	var response *Response
	err = retryRequest(ctx, c.retry, func() error {
		resp, doErr := c.doRequest(ctx, body)
		if doErr != nil {
			return doErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("llm: response contained no choices")
	}
	return response, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &apiError{cause: err, transient: transientTransportError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &apiError{
			cause:      fmt.Errorf("%s: %s", resp.Status, string(msg)),
			statusCode: resp.StatusCode,
			transient:  transientStatus(resp.StatusCode),
		}
	}

	var completion Response
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	return &completion, nil
}

// SingleToolCall returns the first tool call of the first choice, or false
// when the assistant answered with plain content instead.
func (r *Response) SingleToolCall() (ToolCall, bool) {
	if len(r.Choices) == 0 {
		return ToolCall{}, false
	}
	calls := r.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return ToolCall{}, false
	}
	return calls[0], true
}

// Content returns the text content of the first choice.
func (r *Response) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
