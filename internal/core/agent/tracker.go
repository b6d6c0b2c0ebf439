package agent

import (
	"math"
	"sync"
	"unicode/utf8"
)

// autoCompactThresholdPercent is the remaining-percentage floor below which
// compaction becomes due.
const autoCompactThresholdPercent = 15.0

// ContextTracker keeps a running estimate of conversation token usage and
// decides when compaction is due. Usage is monotonically non-decreasing
// within a turn and reset on compaction.
type ContextTracker struct {
	mu            sync.Mutex
	currentTokens int
	threshold     float64
}

// NewContextTracker creates a tracker with the default 15% threshold.
func NewContextTracker() *ContextTracker {
	return &ContextTracker{threshold: autoCompactThresholdPercent}
}

// UpdateUsage records the prompt token count reported by the latest LLM
// call. Smaller values than the current estimate are ignored so usage never
// regresses mid-turn.
func (t *ContextTracker) UpdateUsage(promptTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if promptTokens > t.currentTokens {
		t.currentTokens = promptTokens
	}
}

// GetUsage derives the usage view for the given model budget.
func (t *ContextTracker) GetUsage(maxTokens int) ContextUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	usage := ContextUsage{
		CurrentTokens: t.currentTokens,
		MaxTokens:     maxTokens,
	}
	if maxTokens > 0 {
		remaining := 100 * (1 - float64(t.currentTokens)/float64(maxTokens))
		if remaining < 0 {
			remaining = 0
		}
		usage.RemainingPercentage = remaining
	}
	return usage
}

// ShouldAutoCompact reports whether the remaining percentage has dropped
// below the threshold.
func (t *ContextTracker) ShouldAutoCompact(maxTokens int) bool {
	if maxTokens <= 0 {
		return false
	}
	return t.GetUsage(maxTokens).RemainingPercentage < t.threshold
}

// Reset clears the usage counter, typically after a compaction.
func (t *ContextTracker) Reset() {
	t.mu.Lock()
	t.currentTokens = 0
	t.mu.Unlock()
}

// EstimateHistoryTokens approximates token usage of the whole history. The
// heuristic is intentionally simple (roughly four characters per token) and
// serves as the fallback when the API reports no usage.
func EstimateHistoryTokens(history []Message) int {
	var sum int
	for i := range history {
		sum += estimateMessageTokens(history[i])
	}
	return sum
}

// estimateMessageTokens approximates the token usage of a single message. A
// small base overhead keeps very short messages from costing nothing.
func estimateMessageTokens(message Message) int {
	const baseOverhead = 4
	total := baseOverhead

	total += estimateStringTokens(message.Role)
	total += estimateStringTokens(message.Content)
	total += estimateStringTokens(message.ToolCallID)
	total += estimateStringTokens(message.Name)

	for _, call := range message.ToolCalls {
		total += baseOverhead
		total += estimateStringTokens(call.ID)
		total += estimateStringTokens(call.Function.Name)
		total += estimateStringTokens(call.Function.Arguments)
	}

	return total
}

func estimateStringTokens(value string) int {
	if value == "" {
		return 0
	}
	runes := utf8.RuneCountInString(value)
	tokens := int(math.Ceil(float64(runes) / 4))
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
