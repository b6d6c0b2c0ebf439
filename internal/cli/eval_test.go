package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lococli/loco/internal/config"
	"github.com/lococli/loco/internal/core/agent"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []evalEvent {
	t.Helper()
	var events []evalEvent
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var evt evalEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("line %q is not valid JSON: %v", line, err)
		}
		events = append(events, evt)
	}
	return events
}

func TestEvalEmitterEventMapping(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	emitter := newEvalEmitter(&buf)

	emitter.Emit(agent.Event{Type: agent.EventTodo, Message: "[1/3] add handler"})
	emitter.Emit(agent.Event{
		Type:     agent.EventToolCall,
		Message:  "read file go.mod",
		Metadata: map[string]any{"tool": "read_file", "args": `{"path":"go.mod"}`},
	})
	emitter.Emit(agent.Event{
		Type:     agent.EventToolResult,
		Message:  "module github.com/lococli/loco",
		Metadata: map[string]any{"tool": "read_file", "success": true},
	})
	// Status chatter stays off the eval stream.
	emitter.Emit(agent.Event{Type: agent.EventStatus, Message: "Classifying request"})

	events := decodeLines(t, &buf)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Event != "todo" || events[0].Data["status"] != "[1/3] add handler" {
		t.Fatalf("todo event = %+v", events[0])
	}
	if events[1].Event != "tool_call" || events[1].Data["tool"] != "read_file" {
		t.Fatalf("tool_call event = %+v", events[1])
	}
	if events[1].Data["args"] != `{"path":"go.mod"}` {
		t.Fatalf("tool_call args = %v", events[1].Data["args"])
	}
	if events[2].Event != "tool_result" || events[2].Data["content"] != "module github.com/lococli/loco" {
		t.Fatalf("tool_result event = %+v", events[2])
	}
}

func TestRunEvalMalformedInput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runEval(context.Background(), config.Config{}, strings.NewReader("{not json"), &out)
	if err == nil {
		t.Fatalf("runEval accepted malformed input")
	}
	if out.Len() != 0 {
		t.Fatalf("stream written before input validation: %q", out.String())
	}
}

func TestRunEvalMissingPrompt(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runEval(context.Background(), config.Config{}, strings.NewReader(`{"working_dir":"/tmp"}`), &out)
	if err == nil {
		t.Fatalf("runEval accepted input without a prompt")
	}
	if !strings.Contains(err.Error(), "prompt") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunEvalRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runEval(context.Background(), config.Config{}, strings.NewReader(`{"prompt":"hi"}`), &out)
	if err == nil {
		t.Fatalf("runEval accepted a config without an API key")
	}
}
