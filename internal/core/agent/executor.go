package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lococli/loco/internal/core/llm"
	"github.com/lococli/loco/internal/core/risk"
	"github.com/lococli/loco/internal/core/tools"
)

const defaultSystemPrompt = `You are loco, a coding assistant operating inside the user's project.
You work through a TODO plan when one exists: before starting an item mark it
in_progress with update_todos, and mark it completed or failed with a short
result when done. Use the file and shell tools to inspect and change the
project. Paths are relative to the working directory. Prefer small verifiable
steps, and report what you did in plain language when the work is finished.`

// interruptedMarker is appended to history when the user interrupts a run,
// so the next turn sees where execution was cut off.
const interruptedMarker = "[Execution interrupted by user]"

// errInterrupted flows out of the conversation loop on user interruption. It
// is a controlled outcome, not a failure.
var errInterrupted = errors.New("agent: run interrupted")

// errIterationLimit marks a run that hit the iteration ceiling with the plan
// still open. Reported as a bounded completion, not a crash.
var errIterationLimit = errors.New("agent: iteration limit reached")

// RunResult summarizes one executor run.
type RunResult struct {
	Response      string
	Success       bool
	Interrupted   bool
	ToolCalls     int
	FilesModified []string
	Duration      time.Duration

	TotalTodos     int
	CompletedTodos int
	FailedTodos    int
}

// PlanExecutor is the orchestration engine. It owns the conversation history
// and drives each user request through classification, optional planning, a
// risk-gated tool loop, and auto-compaction. A single run is active at a
// time; Run refuses re-entry.
type PlanExecutor struct {
	opts     Options
	registry *tools.Registry

	classifier *Classifier
	planner    *PlanningEngine
	compactor  *CompactManager
	tracker    *ContextTracker
	layers     *ExecutionLayerManager
	docs       *DocsSearchAgent
	analyzer   *risk.Analyzer
	gate       *risk.Gate

	logger   Logger
	metrics  Metrics
	observer Observer

	interrupted atomic.Bool

	mu        sync.Mutex
	phase     Phase
	history   []Message
	plan      *Plan
	toolCalls int
	fileOrder []string
	fileSeen  map[string]struct{}
}

// NewPlanExecutor builds the engine from options.
func NewPlanExecutor(opts Options) (*PlanExecutor, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}

	e := &PlanExecutor{
		opts:     opts,
		phase:    PhaseIdle,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		observer: opts.Observer,
		fileSeen: make(map[string]struct{}),
	}

	if opts.Registry == nil {
		opts.Registry = tools.DefaultRegistry(opts.WorkingDir, e, e)
	}
	e.registry = opts.Registry
	e.opts.Registry = opts.Registry

	e.classifier = NewClassifier(opts.Client)
	e.planner = NewPlanningEngine(opts.Client, opts.Logger)
	e.compactor = NewCompactManager(opts.Client, opts.Logger)
	e.tracker = NewContextTracker()
	e.analyzer = risk.NewAnalyzer(*opts.Risk)
	e.gate = risk.NewGate(opts.Approver)
	e.docs = NewDocsSearchAgent(opts.Client, opts.DocsRoot, opts.Logger, opts.Observer)

	runners := opts.LayerRunners
	if runners.Standard == nil {
		runners.Standard = e.runConversationLoop
	}
	e.layers = NewExecutionLayerManager(e.registry, runners, opts.Metrics, opts.Logger)

	return e, nil
}

// Interrupt requests that the active run stop at the next safe point. Safe
// to call from any goroutine; a no-op when idle.
func (e *PlanExecutor) Interrupt() {
	e.interrupted.Store(true)
}

// Phase returns the current state-machine phase.
func (e *PlanExecutor) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// History returns a copy of the conversation history.
func (e *PlanExecutor) History() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.history))
	copy(out, e.history)
	return out
}

// Usage reports the tracker's view of the context budget.
func (e *PlanExecutor) Usage() ContextUsage {
	return e.tracker.GetUsage(e.opts.MaxContextTokens)
}

// CurrentPlan returns the active plan, or nil.
func (e *PlanExecutor) CurrentPlan() *Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// RestoreHistory seeds the conversation from a saved session. Only valid
// while idle.
func (e *PlanExecutor) RestoreHistory(history []Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseIdle {
		return fmt.Errorf("agent: cannot restore history in phase %s", e.phase)
	}
	e.history = make([]Message, len(history))
	copy(e.history, history)
	return nil
}

// ApplyUpdates implements tools.TodoStore by delegating to the active plan.
func (e *PlanExecutor) ApplyUpdates(updates []tools.TodoUpdate) []tools.TodoUpdateOutcome {
	e.mu.Lock()
	plan := e.plan
	e.mu.Unlock()

	if plan == nil {
		outcomes := make([]tools.TodoUpdateOutcome, 0, len(updates))
		for _, update := range updates {
			outcomes = append(outcomes, tools.TodoUpdateOutcome{ID: update.ID, Reason: "no active plan"})
		}
		return outcomes
	}

	outcomes := plan.ApplyUpdates(updates)
	for _, outcome := range outcomes {
		if outcome.Applied {
			e.observer.Emit(Event{
				Type:     EventTodo,
				Message:  plan.StatusLine(),
				Level:    StatusLevelInfo,
				Metadata: map[string]any{"todo_id": outcome.ID},
			})
		}
	}
	return outcomes
}

// FileChanged implements tools.FileChangeObserver.
func (e *PlanExecutor) FileChanged(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.fileSeen[path]; seen {
		return
	}
	e.fileSeen[path] = struct{}{}
	e.fileOrder = append(e.fileOrder, path)
}

// Run drives one user request to completion. Exactly one run may be active;
// concurrent calls fail fast. The returned error is non-nil only for real
// failures; interruption and approver stops yield a result with
// Interrupted set and a nil error.
func (e *PlanExecutor) Run(ctx context.Context, userMessage string) (RunResult, error) {
	started := time.Now()

	e.mu.Lock()
	if e.phase != PhaseIdle {
		e.mu.Unlock()
		return RunResult{}, fmt.Errorf("agent: run already in progress (phase %s)", e.phase)
	}
	e.phase = PhaseClassifying
	e.toolCalls = 0
	e.fileOrder = nil
	e.fileSeen = make(map[string]struct{})
	e.mu.Unlock()

	e.interrupted.Store(false)
	e.gate.Reset()
	ctx = WithTraceID(ctx, newTraceID())

	defer func() {
		e.setPhase(PhaseIdle)
		e.saveSession()
	}()

	e.appendHistory(Message{Role: RoleUser, Content: userMessage, Timestamp: time.Now()})
	e.emitStatus("Classifying request")

	classification, findings := e.classifyAndSearch(ctx, userMessage)
	if findings != nil {
		e.appendHistory(Message{
			Role:      RoleUser,
			Content:   formatFindings(*findings),
			Timestamp: time.Now(),
		})
	}
	if e.interrupted.Load() {
		return e.interruptResult(started), nil
	}

	if classification.NeedsPlan {
		e.setPhase(PhasePlanning)
		e.emitStatus("Planning: " + classification.Reason)

		plan, err := e.planner.GeneratePlan(ctx, userMessage, e.History())
		if err != nil {
			return e.failRun(ctx, started, fmt.Errorf("planning: %w", err))
		}
		if plan.IsDirect() {
			// The planner chose to answer directly after all.
			return e.finishDirect(started, plan.DirectResponse()), nil
		}
		e.setPlan(plan)
		e.appendHistory(Message{Role: RoleAssistant, Content: planSummary(plan), Timestamp: time.Now()})
		e.observer.Emit(Event{Type: EventTodo, Message: plan.StatusLine(), Level: StatusLevelInfo})
	} else {
		// Direct mode: any plan from a previous request no longer applies.
		e.setPlan(nil)
		e.emitStatus("Responding directly: " + classification.Reason)
	}

	return e.execute(ctx, started, userMessage)
}

// classifyAndSearch fans out request triage and the docs relevance check
// concurrently; both degrade rather than fail the run.
func (e *PlanExecutor) classifyAndSearch(ctx context.Context, request string) (Classification, *Findings) {
	var (
		wg             sync.WaitGroup
		classification Classification
		classifyErr    error
		findings       *Findings
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		classification, classifyErr = e.classifier.Classify(ctx, request)
	}()
	go func() {
		defer wg.Done()
		if !e.docs.DecideRelevant(ctx, request) {
			return
		}
		e.emitStatus("Searching project docs")
		result, err := e.docs.Search(ctx, request)
		if err != nil {
			e.logger.Warn(ctx, "Docs search failed, continuing without findings",
				Field("error", err.Error()),
			)
			return
		}
		findings = &result
	}()
	wg.Wait()

	if classifyErr != nil {
		// Triage failure defaults to the safer full-planning path.
		e.logger.Warn(ctx, "Classification failed, defaulting to planning",
			Field("error", classifyErr.Error()),
		)
		classification = Classification{NeedsPlan: true, Reason: "classification unavailable"}
	}
	return classification, findings
}

// planSummary renders the freshly created plan as one assistant message.
func planSummary(plan *Plan) string {
	items := plan.Items()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Created a plan with %d step(s):", len(items))
	for i, item := range items {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, item.Title)
	}
	return sb.String()
}

func formatFindings(f Findings) string {
	content := "[Documentation findings]\n" + f.Summary
	for _, finding := range f.Findings {
		content += "\n- " + finding
	}
	if len(f.Sources) > 0 {
		content += "\nSources: "
		for i, src := range f.Sources {
			if i > 0 {
				content += ", "
			}
			content += src
		}
	}
	return content
}

// execute routes the request through the execution layers and shapes the
// final result. Interruption takes precedence over any error from the loop.
func (e *PlanExecutor) execute(ctx context.Context, started time.Time, request string) (RunResult, error) {
	e.setPhase(PhaseExecuting)

	task := Task{
		ID:          TraceIDFrom(ctx),
		Description: request,
		NeedsTools:  true,
	}
	route, err := e.layers.Route(ctx, task)

	if e.interrupted.Load() || errors.Is(err, errInterrupted) {
		return e.interruptResult(started), nil
	}
	if errors.Is(err, risk.ErrStopped) {
		e.sealPlan()
		e.observer.Emit(Event{Type: EventInterrupted, Message: "Execution stopped at your request", Level: StatusLevelWarn})
		result := e.baseResult(started)
		result.Interrupted = true
		result.Response = "Execution stopped at your request."
		return result, nil
	}
	if errors.Is(err, errIterationLimit) {
		e.sealPlan()
		result := e.baseResult(started)
		result.Response = "Stopped after reaching the iteration limit."
		if summary := e.completionSummary(); summary != "" {
			result.Response += "\n\n" + summary
		}
		e.observer.Emit(Event{Type: EventDone, Message: result.Response, Level: StatusLevelWarn})
		return result, nil
	}
	if err != nil {
		return e.failRun(ctx, started, err)
	}

	e.sealPlan()
	result := e.baseResult(started)
	result.Response = route.Result

	if summary := e.completionSummary(); summary != "" {
		if result.Response != "" {
			result.Response += "\n\n"
		}
		result.Response += summary
	}
	result.Success = result.FailedTodos == 0

	e.observer.Emit(Event{Type: EventDone, Message: result.Response, Level: StatusLevelInfo})
	return result, nil
}

// runConversationLoop is the standard-tools execution layer: a bounded
// request/response loop where the model works the plan through tool calls.
func (e *PlanExecutor) runConversationLoop(ctx context.Context, _ Task) (string, error) {
	var lastContent string

	for iteration := 1; iteration <= e.opts.MaxIterations; iteration++ {
		if e.checkInterrupted(ctx) {
			return lastContent, errInterrupted
		}

		req := e.buildRequest()
		start := time.Now()
		resp, err := e.opts.Client.ChatCompletion(ctx, req)
		e.metrics.RecordLLMCall(time.Since(start), err == nil)
		if err != nil {
			return lastContent, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		if resp.Usage.PromptTokens > 0 {
			e.tracker.UpdateUsage(resp.Usage.PromptTokens)
		} else {
			// Some compatible endpoints omit usage; fall back to the
			// estimator so auto-compaction still has a signal.
			e.tracker.UpdateUsage(EstimateHistoryTokens(e.History()))
		}

		assistant, content, calls := decodeAssistantTurn(resp)
		e.appendHistory(assistant)
		if content != "" {
			lastContent = content
			e.observer.Emit(Event{Type: EventAssistant, Message: content, Level: StatusLevelInfo})
		}

		if len(calls) == 0 {
			plan := e.CurrentPlan()
			if plan == nil || plan.AllTerminal() {
				return lastContent, nil
			}
			// Plain response with open TODO items: push the model back to
			// the plan instead of stopping early.
			e.appendHistory(Message{
				Role:      RoleUser,
				Content:   "TODO items are still open. Continue working the plan and record progress with update_todos.",
				Timestamp: time.Now(),
			})
			e.maybeCompact(ctx)
			continue
		}

		for _, call := range calls {
			if e.checkInterrupted(ctx) {
				return lastContent, errInterrupted
			}
			toolMsg, err := e.runToolCall(ctx, call)
			if err != nil {
				return lastContent, err
			}
			e.appendHistory(toolMsg)
		}

		// Every iteration appends messages, so every iteration consults the
		// tracker.
		e.maybeCompact(ctx)
	}

	return lastContent, fmt.Errorf("%w: %d iterations without completing the plan", errIterationLimit, e.opts.MaxIterations)
}

func decodeAssistantTurn(resp *llm.Response) (Message, string, []llm.ToolCall) {
	msg := Message{Role: RoleAssistant, Timestamp: time.Now()}
	if len(resp.Choices) == 0 {
		return msg, "", nil
	}
	wire := resp.Choices[0].Message
	msg.Content = wire.Content
	msg.ToolCalls = wire.ToolCalls
	return msg, wire.Content, wire.ToolCalls
}

// buildRequest assembles the wire messages for one loop iteration. The
// system prompt and the plan status line are injected here, never stored, so
// compaction only ever sees raw conversation.
func (e *PlanExecutor) buildRequest() llm.Request {
	e.mu.Lock()
	msgs := make([]llm.Message, 0, len(e.history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: e.opts.SystemPrompt})
	msgs = append(msgs, wireMessages(e.history)...)
	plan := e.plan
	e.mu.Unlock()

	if plan != nil {
		if line := plan.StatusLine(); line != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: line})
		}
	}

	return llm.Request{
		Messages:    msgs,
		Tools:       e.registry.Definitions(),
		Temperature: e.opts.Temperature,
	}
}

// runToolCall assesses, gates, and executes a single tool call. A rejection
// produces a tool result and the loop continues; only an approver stop
// aborts the run.
func (e *PlanExecutor) runToolCall(ctx context.Context, call llm.ToolCall) (Message, error) {
	name := call.Function.Name
	description := e.registry.Describe(name, call.Function.Arguments)

	e.mu.Lock()
	e.toolCalls++
	e.mu.Unlock()
	e.observer.Emit(Event{
		Type:     EventToolCall,
		Message:  description,
		Level:    StatusLevelInfo,
		Metadata: map[string]any{"tool": name, "args": call.Function.Arguments},
	})

	assessment := e.analyzer.Analyze(description)
	if assessment.RequiresApproval {
		e.observer.Emit(Event{
			Type:    EventApproval,
			Message: fmt.Sprintf("%s risk (%s): %s", assessment.Level, assessment.Category, description),
			Level:   StatusLevelWarn,
			Metadata: map[string]any{
				"tool":   name,
				"level":  assessment.Level.String(),
				"reason": assessment.Reason,
			},
		})

		decision, err := e.gate.RequestApproval(ctx, risk.Request{
			ToolName:    name,
			Description: description,
			Assessment:  assessment,
		})
		if errors.Is(err, risk.ErrStopped) {
			return Message{}, err
		}
		if err != nil {
			e.logger.Warn(ctx, "Approval request failed, rejecting tool call",
				Field("tool", name),
				Field("error", err.Error()),
			)
			decision = risk.DecisionReject
		}
		if decision != risk.DecisionApprove {
			e.logger.Info(ctx, "Tool call rejected", Field("tool", name))
			return toolResultMessage(call, "Tool call rejected by the user. Adjust the approach or mark the related TODO item failed."), nil
		}
	}

	result := e.registry.Execute(ctx, name, call.Function.Arguments)
	content := result.Content
	if !result.Success {
		if result.Error != "" {
			content = "error: " + result.Error
		} else if content == "" {
			content = "error: tool execution failed"
		}
	}

	level := StatusLevelInfo
	if !result.Success {
		level = StatusLevelWarn
	}
	e.observer.Emit(Event{
		Type:     EventToolResult,
		Message:  content,
		Level:    level,
		Metadata: map[string]any{"tool": name, "success": result.Success},
	})

	return toolResultMessage(call, content), nil
}

func toolResultMessage(call llm.ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
		Timestamp:  time.Now(),
	}
}

// maybeCompact folds old history into a summary when the tracker signals the
// context is running out. Failure leaves history untouched.
func (e *PlanExecutor) maybeCompact(ctx context.Context) {
	if !e.tracker.ShouldAutoCompact(e.opts.MaxContextTokens) {
		return
	}

	e.setPhase(PhaseCompacting)
	defer e.setPhase(PhaseExecuting)
	e.emitStatus("Context running low, compacting history")

	meta := CompactContext{
		WorkingDirectory: e.opts.WorkingDir,
		RecentFiles:      e.modifiedFiles(),
	}
	if plan := e.CurrentPlan(); plan != nil {
		meta.Todos = plan.Items()
	}

	result, compacted := e.compactor.Compact(ctx, e.History(), meta)
	if !result.Success {
		return
	}

	e.mu.Lock()
	e.history = compacted
	e.mu.Unlock()

	e.metrics.RecordCompaction(result.OriginalCount, result.NewCount)
	// The tracker is monotonic within a run; after compaction the estimate
	// restarts from the compacted history.
	e.tracker.Reset()
	e.tracker.UpdateUsage(EstimateHistoryTokens(compacted))

	e.observer.Emit(Event{
		Type:    EventCompaction,
		Message: fmt.Sprintf("Compacted %d messages into %d", result.OriginalCount, result.NewCount),
		Level:   StatusLevelInfo,
		Metadata: map[string]any{
			"original_count": result.OriginalCount,
			"new_count":      result.NewCount,
		},
	})
	e.saveSession()
}

func (e *PlanExecutor) checkInterrupted(ctx context.Context) bool {
	if !e.interrupted.Load() && ctx.Err() == nil {
		return false
	}
	e.appendHistory(Message{Role: RoleUser, Content: interruptedMarker, Timestamp: time.Now()})
	return true
}

func (e *PlanExecutor) finishDirect(started time.Time, response string) RunResult {
	e.setPlan(nil)
	e.appendHistory(Message{Role: RoleAssistant, Content: response, Timestamp: time.Now()})
	e.observer.Emit(Event{Type: EventAssistant, Message: response, Level: StatusLevelInfo})
	e.observer.Emit(Event{Type: EventDone, Message: response, Level: StatusLevelInfo})

	result := e.baseResult(started)
	result.Response = response
	result.Success = true
	return result
}

func (e *PlanExecutor) interruptResult(started time.Time) RunResult {
	e.sealPlan()
	e.observer.Emit(Event{Type: EventInterrupted, Message: "Execution interrupted", Level: StatusLevelWarn})

	result := e.baseResult(started)
	result.Interrupted = true
	result.Response = "Execution interrupted."
	return result
}

func (e *PlanExecutor) failRun(ctx context.Context, started time.Time, err error) (RunResult, error) {
	e.sealPlan()
	e.logger.Error(ctx, "Run failed", err, Field("phase", string(e.Phase())))
	e.observer.Emit(Event{Type: EventError, Message: err.Error(), Level: StatusLevelError})

	result := e.baseResult(started)
	result.Response = "Execution failed: " + err.Error()
	return result, err
}

func (e *PlanExecutor) baseResult(started time.Time) RunResult {
	e.mu.Lock()
	toolCalls := e.toolCalls
	e.mu.Unlock()

	result := RunResult{
		ToolCalls:     toolCalls,
		FilesModified: e.modifiedFiles(),
		Duration:      time.Since(started),
	}
	if plan := e.CurrentPlan(); plan != nil {
		result.TotalTodos, result.CompletedTodos, result.FailedTodos = plan.Counts()
	}
	return result
}

// completionSummary renders the end-of-run TODO accounting.
func (e *PlanExecutor) completionSummary() string {
	plan := e.CurrentPlan()
	if plan == nil || plan.Len() == 0 {
		return ""
	}
	total, completed, failed := plan.Counts()
	return fmt.Sprintf("Total: %d | Completed: %d | Failed: %d", total, completed, failed)
}

func (e *PlanExecutor) setPhase(phase Phase) {
	e.mu.Lock()
	e.phase = phase
	e.mu.Unlock()
}

func (e *PlanExecutor) setPlan(plan *Plan) {
	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()
}

func (e *PlanExecutor) sealPlan() {
	if plan := e.CurrentPlan(); plan != nil {
		plan.Seal()
	}
}

func (e *PlanExecutor) appendHistory(msg Message) {
	e.mu.Lock()
	e.history = append(e.history, msg)
	e.mu.Unlock()
}

func (e *PlanExecutor) modifiedFiles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.fileOrder))
	copy(out, e.fileOrder)
	return out
}

func (e *PlanExecutor) emitStatus(msg string) {
	e.observer.Emit(Event{Type: EventStatus, Message: msg, Level: StatusLevelInfo})
}

// saveSession snapshots history and todos fire-and-forget.
func (e *PlanExecutor) saveSession() {
	if e.opts.Sessions == nil {
		return
	}
	snapshot := SessionSnapshot{
		History:   e.History(),
		UpdatedAt: time.Now(),
	}
	if plan := e.CurrentPlan(); plan != nil {
		snapshot.Todos = plan.Items()
	}
	go e.opts.Sessions.Save(snapshot)
}
