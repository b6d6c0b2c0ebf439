package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lococli/loco/internal/core/tools"
)

// Layer names, in decision order.
const (
	LayerSkills        = "skills"
	LayerSubagent      = "subagent"
	LayerSDKDynamic    = "sdk-dynamic"
	LayerStandardTools = "standard-tools"
)

// ErrNoExecutionLayer is returned when no layer can carry out a task. The
// manager never silently degrades a task whose requirements cannot be met.
var ErrNoExecutionLayer = errors.New("agent: no suitable execution layer")

// LayerRunner carries out a routed task on behalf of one layer.
type LayerRunner func(ctx context.Context, task Task) (string, error)

// RouteResult reports which layer ran the task and what it produced.
type RouteResult struct {
	Layer  string
	Result string
}

// executionLayer is one routing candidate.
type executionLayer struct {
	name string
	// matches reports whether the task's declared requirements select this
	// layer.
	matches func(task Task) bool
	// available reports whether the layer can actually run right now; an
	// unavailable layer falls through to the next candidate.
	available func(task Task) bool
	runner    LayerRunner
}

// ExecutionLayerManager routes tasks to the cheapest capable execution
// strategy with ordered fallback: skills, subagent, sdk-dynamic, then
// standard-tools. Routing is deterministic for a fixed task.
type ExecutionLayerManager struct {
	layers   []executionLayer
	registry *tools.Registry
	metrics  Metrics
	logger   Logger
}

// LayerRunners bundles the optional strategy implementations. A nil runner
// leaves its layer unavailable.
type LayerRunners struct {
	Skills   LayerRunner
	Subagent LayerRunner
	Dynamic  LayerRunner
	Standard LayerRunner
}

// NewExecutionLayerManager builds the manager over the given registry and
// runners.
func NewExecutionLayerManager(registry *tools.Registry, runners LayerRunners, metrics Metrics, logger Logger) *ExecutionLayerManager {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	m := &ExecutionLayerManager{registry: registry, metrics: metrics, logger: logger}

	m.layers = []executionLayer{
		{
			name:      LayerSkills,
			matches:   func(t Task) bool { return t.NeedsSkill || t.NeedsBehaviorChange },
			available: func(Task) bool { return runners.Skills != nil },
			runner:    runners.Skills,
		},
		{
			name:      LayerSubagent,
			matches:   func(t Task) bool { return t.NeedsParallelism || len(t.Subtasks) >= 3 },
			available: func(Task) bool { return runners.Subagent != nil },
			runner:    runners.Subagent,
		},
		{
			name:      LayerSDKDynamic,
			matches:   func(t Task) bool { return t.NeedsDynamicCode },
			available: func(Task) bool { return runners.Dynamic != nil },
			runner:    runners.Dynamic,
		},
		{
			name:    LayerStandardTools,
			matches: func(Task) bool { return true },
			available: func(t Task) bool {
				if runners.Standard == nil {
					return false
				}
				if registry == nil {
					return len(t.Tools) == 0
				}
				return registry.Has(t.Tools...)
			},
			runner: runners.Standard,
		},
	}

	return m
}

// Route selects the first matching, available layer and executes the task
// there, recording an execution metric either way. When even the default
// layer cannot serve the task, ErrNoExecutionLayer is returned.
func (m *ExecutionLayerManager) Route(ctx context.Context, task Task) (RouteResult, error) {
	for _, layer := range m.layers {
		if !layer.matches(task) {
			continue
		}
		if !layer.available(task) {
			m.logger.Debug(ctx, "Execution layer unavailable, falling back",
				Field("layer", layer.name),
				Field("task_id", task.ID),
			)
			continue
		}

		start := time.Now()
		result, err := layer.runner(ctx, task)
		m.metrics.RecordLayerExecution(LayerRecord{
			Layer:    layer.name,
			TaskID:   task.ID,
			Duration: time.Since(start),
			Success:  err == nil,
			At:       start,
		})
		if err != nil {
			return RouteResult{Layer: layer.name}, fmt.Errorf("agent: layer %s: %w", layer.name, err)
		}
		return RouteResult{Layer: layer.name, Result: result}, nil
	}

	return RouteResult{}, fmt.Errorf("%w for task %q", ErrNoExecutionLayer, task.ID)
}

// SelectLayer reports the layer Route would pick, without executing.
func (m *ExecutionLayerManager) SelectLayer(task Task) (string, error) {
	for _, layer := range m.layers {
		if layer.matches(task) && layer.available(task) {
			return layer.name, nil
		}
	}
	return "", fmt.Errorf("%w for task %q", ErrNoExecutionLayer, task.ID)
}
