package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lococli/loco/internal/core/llm"
	"github.com/lococli/loco/internal/core/risk"
)

// eventRecorder captures emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, client LLMClient, opts Options) *PlanExecutor {
	t.Helper()
	opts.Client = client
	if opts.WorkingDir == "" {
		opts.WorkingDir = t.TempDir()
	}
	exec, err := NewPlanExecutor(opts)
	if err != nil {
		t.Fatalf("NewPlanExecutor: %v", err)
	}
	return exec
}

func TestRunDirectMode(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"direct","reason":"greeting"}`),
		textResponse("hello there"),
	}}
	exec := newTestExecutor(t, client, Options{})

	result, err := exec.Run(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Response != "hello there" {
		t.Fatalf("Response = %q, want %q", result.Response, "hello there")
	}
	if !result.Success {
		t.Fatalf("Success = false, want true")
	}
	if result.Interrupted {
		t.Fatalf("Interrupted = true for a clean run")
	}
	if result.ToolCalls != 0 {
		t.Fatalf("ToolCalls = %d, want 0", result.ToolCalls)
	}
	if result.TotalTodos != 0 {
		t.Fatalf("TotalTodos = %d, want 0 in direct mode", result.TotalTodos)
	}
	if exec.Phase() != PhaseIdle {
		t.Fatalf("Phase after run = %s, want idle", exec.Phase())
	}

	history := exec.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want user + assistant", len(history))
	}
	if history[0].Role != RoleUser || history[1].Role != RoleAssistant {
		t.Fatalf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
}

func TestRunPlanCountsAndSummary(t *testing.T) {
	t.Parallel()

	recorder := &eventRecorder{}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"plan","reason":"multi-step"}`),
		toolCallResponse("create_todos", `{"todos":[
			{"id":"t1","title":"inspect"},
			{"id":"t2","title":"change","dependencies":["t1"]},
			{"id":"t3","title":"verify","dependencies":["t2"]}
		]}`),
		toolCallResponse("update_todos", `{"updates":[
			{"id":"t1","status":"completed"},
			{"id":"t2","status":"completed"},
			{"id":"t3","status":"failed","error":"tests would not pass"}
		]}`),
		textResponse("Finished what could be finished."),
	}}
	exec := newTestExecutor(t, client, Options{Observer: recorder})

	result, err := exec.Run(context.Background(), "refactor the parser")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalTodos != 3 || result.CompletedTodos != 2 || result.FailedTodos != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1",
			result.TotalTodos, result.CompletedTodos, result.FailedTodos)
	}
	if result.Success {
		t.Fatalf("Success = true with a failed todo")
	}
	if result.ToolCalls != 1 {
		t.Fatalf("ToolCalls = %d, want 1", result.ToolCalls)
	}
	if !strings.Contains(result.Response, "Finished what could be finished.") {
		t.Fatalf("Response lost assistant content: %q", result.Response)
	}
	if !strings.Contains(result.Response, "Total: 3 | Completed: 2 | Failed: 1") {
		t.Fatalf("Response missing completion summary: %q", result.Response)
	}
	if len(recorder.byType(EventTodo)) == 0 {
		t.Fatalf("no todo events emitted")
	}
	if plan := exec.CurrentPlan(); plan == nil || !plan.AllTerminal() {
		t.Fatalf("plan not terminal after run")
	}
}

func TestRunRejectedToolCallContinues(t *testing.T) {
	t.Parallel()

	recorder := &eventRecorder{}
	rejector := risk.ApproverFunc(func(_ context.Context, _ risk.Request) (risk.Decision, error) {
		return risk.DecisionReject, nil
	})
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"direct","reason":"cleanup"}`),
		toolCallResponse("run_command", `{"command":"rm -rf build"}`),
		textResponse("Left the build directory alone."),
	}}
	exec := newTestExecutor(t, client, Options{Approver: rejector, Observer: recorder})

	result, err := exec.Run(context.Background(), "clean the build dir")
	if err != nil {
		t.Fatalf("Run returned error after rejection: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false, want true: rejection is not a failure")
	}
	if result.ToolCalls != 1 {
		t.Fatalf("ToolCalls = %d, want 1", result.ToolCalls)
	}
	if len(recorder.byType(EventApproval)) != 1 {
		t.Fatalf("approval events = %d, want 1", len(recorder.byType(EventApproval)))
	}

	var sawRejection bool
	for _, msg := range exec.History() {
		if msg.Role == RoleTool && strings.Contains(msg.Content, "rejected by the user") {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Fatalf("no rejection tool result in history")
	}
}

func TestRunApproverStop(t *testing.T) {
	t.Parallel()

	stopper := risk.ApproverFunc(func(_ context.Context, _ risk.Request) (risk.Decision, error) {
		return risk.DecisionStop, nil
	})
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"direct","reason":"cleanup"}`),
		toolCallResponse("run_command", `{"command":"rm -rf build"}`),
	}}
	exec := newTestExecutor(t, client, Options{Approver: stopper})

	result, err := exec.Run(context.Background(), "clean the build dir")
	if err != nil {
		t.Fatalf("Run: stop is a controlled outcome, got error %v", err)
	}
	if !result.Interrupted {
		t.Fatalf("Interrupted = false after approver stop")
	}
	if !strings.Contains(result.Response, "stopped at your request") {
		t.Fatalf("Response = %q", result.Response)
	}
}

func TestRunInterruptDuringExecutionSkipsToolCall(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	client := &scriptedClient{}
	var exec *PlanExecutor
	var calls int
	var mu sync.Mutex
	client.fn = func(_ llm.Request) (*llm.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return toolCallResponse("classify_request", `{"mode":"direct","reason":"edit"}`), nil
		}
		// The interrupt lands while this assistant turn is in flight; its
		// tool call must never be issued.
		exec.Interrupt()
		return toolCallResponse("write_file", `{"path":"halted.txt","content":"should not exist"}`), nil
	}
	exec = newTestExecutor(t, client, Options{WorkingDir: workdir})

	result, err := exec.Run(context.Background(), "write a file")
	if err != nil {
		t.Fatalf("Run: interruption is a controlled outcome, got error %v", err)
	}
	if !result.Interrupted {
		t.Fatalf("Interrupted = false")
	}
	if result.ToolCalls != 0 {
		t.Fatalf("ToolCalls = %d, want 0: interrupted before the call was issued", result.ToolCalls)
	}
	if client.callCount() != 2 {
		t.Fatalf("LLM calls = %d, want 2 (no iteration after the interrupt)", client.callCount())
	}
	if _, statErr := os.Stat(filepath.Join(workdir, "halted.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("tool ran despite the interrupt: %v", statErr)
	}

	var sawMarker bool
	for _, msg := range exec.History() {
		if msg.Content == interruptedMarker {
			sawMarker = true
		}
	}
	if !sawMarker {
		t.Fatalf("no interruption marker in history")
	}
}

func TestRunAutoCompactionDuringExecution(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "notes.txt"), []byte("alpha\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	recorder := &eventRecorder{}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"direct","reason":"inspection"}`),
		// Reported usage pushes the tracker past the compaction threshold,
		// but with only three messages there is nothing old enough to fold.
		withUsage(toolCallResponse("read_file", `{"path":"notes.txt"}`), 900),
		toolCallResponse("list_dir", `{"path":"."}`),
		textResponse("## Goals\nInspect the workspace.\n## Decisions\nNone.\n## Open items\nNone."),
		textResponse("all done"),
	}}
	exec := newTestExecutor(t, client, Options{
		WorkingDir:       workdir,
		MaxContextTokens: 1000,
		Observer:         recorder,
	})

	result, err := exec.Run(context.Background(), "look around the workspace")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %+v", result)
	}
	if result.ToolCalls != 2 {
		t.Fatalf("ToolCalls = %d, want 2", result.ToolCalls)
	}
	if client.callCount() != 5 {
		t.Fatalf("LLM calls = %d, want 5 (one of them the summarizer)", client.callCount())
	}
	if got := len(recorder.byType(EventCompaction)); got != 1 {
		t.Fatalf("compaction events = %d, want exactly 1", got)
	}

	history := exec.History()
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4 (summary + kept tail + final answer)", len(history))
	}
	if !history[0].Summarized {
		t.Fatalf("history head not marked as a summary: %+v", history[0])
	}
	if !strings.Contains(history[0].Content, "[Conversation summary") {
		t.Fatalf("summary message missing its marker: %q", history[0].Content)
	}
	if !strings.Contains(history[0].Content, "## Goals") {
		t.Fatalf("summary message lost the summarizer output: %q", history[0].Content)
	}
}

func TestRunCompactionOnPlainResponseWithOpenTodos(t *testing.T) {
	t.Parallel()

	recorder := &eventRecorder{}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"plan","reason":"multi-step"}`),
		toolCallResponse("create_todos", `{"todos":[{"id":"t1","title":"tidy the notes"}]}`),
		// A plain answer while t1 is still open: the loop nudges the model
		// back to the plan, and that turn still has to consult the tracker.
		withUsage(textResponse("working on it"), 900),
		textResponse("## Goals\nTidy the notes.\n## Decisions\nNone.\n## Open items\nt1."),
		toolCallResponse("update_todos", `{"updates":[{"id":"t1","status":"completed"}]}`),
		textResponse("finished"),
	}}
	exec := newTestExecutor(t, client, Options{
		MaxContextTokens: 1000,
		Observer:         recorder,
	})

	result, err := exec.Run(context.Background(), "tidy the notes")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %+v", result)
	}
	if got := len(recorder.byType(EventCompaction)); got != 1 {
		t.Fatalf("compaction events = %d, want exactly 1 (the no-tool-call turn must compact)", got)
	}
	if !strings.Contains(result.Response, "Total: 1 | Completed: 1 | Failed: 0") {
		t.Fatalf("Response missing completion summary: %q", result.Response)
	}

	history := exec.History()
	if len(history) == 0 || !history[0].Summarized {
		t.Fatalf("history head is not the compaction summary")
	}
	var sawNudge bool
	for _, msg := range history {
		if strings.Contains(msg.Content, "TODO items are still open") {
			sawNudge = true
		}
	}
	if !sawNudge {
		t.Fatalf("the open-TODO nudge did not survive compaction in the kept tail")
	}
}

func TestRunInterruptDuringClassification(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{}
	var exec *PlanExecutor
	client.fn = func(_ llm.Request) (*llm.Response, error) {
		exec.Interrupt()
		return toolCallResponse("classify_request", `{"mode":"direct","reason":"x"}`), nil
	}
	exec = newTestExecutor(t, client, Options{})

	result, err := exec.Run(context.Background(), "do something slow")
	if err != nil {
		t.Fatalf("Run: interruption is a controlled outcome, got error %v", err)
	}
	if !result.Interrupted {
		t.Fatalf("Interrupted = false")
	}
	if result.Response != "Execution interrupted." {
		t.Fatalf("Response = %q", result.Response)
	}
	if exec.Phase() != PhaseIdle {
		t.Fatalf("Phase after interrupt = %s, want idle", exec.Phase())
	}
}

func TestRunIterationLimitIsBoundedCompletion(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{}
	var calls int
	var mu sync.Mutex
	client.fn = func(_ llm.Request) (*llm.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			return toolCallResponse("classify_request", `{"mode":"plan","reason":"multi-step"}`), nil
		case 2:
			return toolCallResponse("create_todos", `{"todos":[{"id":"t1","title":"never finished"}]}`), nil
		default:
			// Keeps answering plain text while t1 stays open.
			return textResponse("still thinking"), nil
		}
	}
	exec := newTestExecutor(t, client, Options{MaxIterations: 2})

	result, err := exec.Run(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("Run: the iteration ceiling is a bounded completion, got error %v", err)
	}
	if result.Success {
		t.Fatalf("Success = true with an open plan")
	}
	if !strings.Contains(result.Response, "iteration limit") {
		t.Fatalf("Response = %q", result.Response)
	}
	if !strings.Contains(result.Response, "Total: 1 | Completed: 0 | Failed: 0") {
		t.Fatalf("Response missing counts: %q", result.Response)
	}
}

func TestRunRefusesReentry(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	client := &scriptedClient{}
	var calls int
	var mu sync.Mutex
	client.fn = func(_ llm.Request) (*llm.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(entered)
			<-release
			return toolCallResponse("classify_request", `{"mode":"direct","reason":"x"}`), nil
		}
		return textResponse("done"), nil
	}
	exec := newTestExecutor(t, client, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := exec.Run(context.Background(), "first")
		done <- err
	}()
	<-entered

	if _, err := exec.Run(context.Background(), "second"); err == nil {
		t.Fatalf("concurrent Run succeeded, want refusal")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}

func TestRunTracksModifiedFiles(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"direct","reason":"small edit"}`),
		toolCallResponse("write_file", `{"path":"notes/todo.txt","content":"remember the milk\n"}`),
		textResponse("Wrote the note."),
	}}
	exec := newTestExecutor(t, client, Options{WorkingDir: workdir})

	result, err := exec.Run(context.Background(), "jot a note")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.FilesModified) != 1 || result.FilesModified[0] != "notes/todo.txt" {
		t.Fatalf("FilesModified = %v", result.FilesModified)
	}
	data, err := os.ReadFile(filepath.Join(workdir, "notes", "todo.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "remember the milk\n" {
		t.Fatalf("file content = %q", data)
	}
}

func TestRunSessionSaverAndRestore(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("classify_request", `{"mode":"direct","reason":"greeting"}`),
		textResponse("hi again"),
	}}
	exec := newTestExecutor(t, client, Options{})

	seed := []Message{
		{Role: RoleUser, Content: "earlier question"},
		{Role: RoleAssistant, Content: "earlier answer"},
	}
	if err := exec.RestoreHistory(seed); err != nil {
		t.Fatalf("RestoreHistory: %v", err)
	}

	if _, err := exec.Run(context.Background(), "say hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	history := exec.History()
	if len(history) != 4 {
		t.Fatalf("history length = %d, want seeded 2 + this run's 2", len(history))
	}
	if history[0].Content != "earlier question" {
		t.Fatalf("restored history lost: %q", history[0].Content)
	}
}
