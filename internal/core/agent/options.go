package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/lococli/loco/internal/core/risk"
	"github.com/lococli/loco/internal/core/tools"
)

// Defaults applied by Options.setDefaults.
const (
	DefaultMaxIterations    = 50
	DefaultMaxContextTokens = 128_000
	DefaultTemperature      = 0.2
)

// SessionSnapshot is the state persisted between runs.
type SessionSnapshot struct {
	History   []Message  `json:"history"`
	Todos     []TodoItem `json:"todos,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SessionSaver persists snapshots. Save is invoked fire-and-forget; it must
// never block the executor and its errors are its own to report.
type SessionSaver interface {
	Save(snapshot SessionSnapshot)
}

// Options configures a PlanExecutor. Zero values are filled in by
// setDefaults; only Client is mandatory.
type Options struct {
	// Client is the chat-completion backend. Required.
	Client LLMClient

	// Registry provides the tool set. When nil a default registry rooted at
	// WorkingDir is built, with the executor as todo store and file observer.
	Registry *tools.Registry

	// Approver resolves risk approvals. Nil means risky tool calls are
	// rejected; use risk.AutoApprover for hands-off runs.
	Approver risk.Approver

	// Risk tunes the analyzer. Nil selects risk.DefaultConfig.
	Risk *risk.Config

	// LayerRunners overrides execution-layer backends. The standard-tools
	// runner defaults to the executor's own conversation loop.
	LayerRunners LayerRunners

	Logger   Logger
	Metrics  Metrics
	Observer Observer
	Sessions SessionSaver

	// SystemPrompt replaces the built-in assistant prompt when non-empty.
	SystemPrompt string

	// WorkingDir roots file and shell tools. Defaults to the process cwd.
	WorkingDir string

	// DocsRoot points at a local documentation tree. Empty disables the
	// docs search agent.
	DocsRoot string

	// MaxIterations bounds the conversation loop of a single run.
	MaxIterations int

	// MaxContextTokens is the model's context window for auto-compaction.
	MaxContextTokens int

	// Temperature for execution-loop completions.
	Temperature float64
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = &NoOpLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = NewInMemoryMetrics()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.WorkingDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			o.WorkingDir = cwd
		} else {
			o.WorkingDir = "."
		}
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.MaxContextTokens == 0 {
		o.MaxContextTokens = DefaultMaxContextTokens
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	if o.Risk == nil {
		cfg := risk.DefaultConfig()
		o.Risk = &cfg
	}
}

func (o *Options) validate() error {
	if o.Client == nil {
		return fmt.Errorf("agent: Options.Client is required")
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("agent: MaxIterations must be positive, got %d", o.MaxIterations)
	}
	if o.MaxContextTokens < 1 {
		return fmt.Errorf("agent: MaxContextTokens must be positive, got %d", o.MaxContextTokens)
	}
	return nil
}
