package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lococli/loco/internal/config"
	"github.com/lococli/loco/internal/core/agent"
	"github.com/lococli/loco/internal/core/risk"
)

// evalRequest is the JSON document read from stdin in --eval mode.
type evalRequest struct {
	Prompt     string `json:"prompt"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// evalEvent is one NDJSON line of the eval stream.
type evalEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// evalEmitter serializes NDJSON writes from the executor goroutine and the
// driver.
type evalEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEvalEmitter(w io.Writer) *evalEmitter {
	return &evalEmitter{enc: json.NewEncoder(w)}
}

func (e *evalEmitter) emit(event string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(evalEvent{Event: event, Data: data})
}

// Emit implements agent.Observer, mapping executor events onto the eval
// stream.
func (e *evalEmitter) Emit(evt agent.Event) {
	switch evt.Type {
	case agent.EventTodo:
		e.emit("todo", map[string]any{"status": evt.Message})
	case agent.EventToolCall:
		data := map[string]any{"tool": "", "args": ""}
		for k, v := range evt.Metadata {
			data[k] = v
		}
		e.emit("tool_call", data)
	case agent.EventToolResult:
		data := map[string]any{"content": evt.Message}
		for k, v := range evt.Metadata {
			data[k] = v
		}
		e.emit("tool_result", data)
	}
}

// runEval reads one JSON request from stdin and streams NDJSON events to
// stdout. The exit code reflects protocol health only: malformed input is an
// error, a task that ran and failed is not.
func runEval(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("eval: read stdin: %w", err)
	}

	var req evalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("eval: invalid input: %w", err)
	}
	if req.Prompt == "" {
		return fmt.Errorf("eval: input is missing the prompt field")
	}
	if req.WorkingDir != "" {
		cfg.WorkingDir = req.WorkingDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("eval: %w", err)
	}

	emitter := newEvalEmitter(out)
	emitter.emit("start", map[string]any{"prompt": req.Prompt})

	// Eval runs are hands-off: everything is approved, nothing prompts.
	executor, err := buildExecutor(cfg, &rootFlags{}, risk.AutoApprover{}, emitter)
	if err != nil {
		emitter.emit("error", map[string]any{"message": err.Error()})
		emitter.emit("end", map[string]any{
			"success":     false,
			"duration_ms": 0,
			"tool_calls":  0,
		})
		return nil
	}

	started := time.Now()
	result, runErr := executor.Run(ctx, req.Prompt)

	if runErr != nil {
		emitter.emit("error", map[string]any{"message": runErr.Error()})
	} else if result.Response != "" {
		emitter.emit("response", map[string]any{"content": result.Response})
	}

	files := result.FilesModified
	if files == nil {
		files = []string{}
	}
	emitter.emit("end", map[string]any{
		"success":        runErr == nil && result.Success && !result.Interrupted,
		"duration_ms":    time.Since(started).Milliseconds(),
		"tool_calls":     result.ToolCalls,
		"files_modified": files,
	})

	// The run completed and the stream is well-formed; task failure is
	// reported in the end event, not the exit code.
	return nil
}
