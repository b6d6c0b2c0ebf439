package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lococli/loco/internal/core/llm"
)

// compactKeepTail is the number of trailing raw messages preserved verbatim,
// so an in-flight tool-call/tool-result pairing is never broken.
const compactKeepTail = 2

// CompactContext carries session state the summarizer folds into its prompt.
type CompactContext struct {
	Todos            []TodoItem
	WorkingDirectory string
	RecentFiles      []string
}

// CompactResult reports a compaction outcome. When Success is false the
// original history was left untouched; compaction failure never loses
// conversation history.
type CompactResult struct {
	Success       bool
	Summary       string
	OriginalCount int
	NewCount      int
}

// CompactManager collapses conversation history into a structured summary
// when the context tracker signals overflow.
type CompactManager struct {
	client LLMClient
	logger Logger
}

// NewCompactManager wires the manager to its LLM collaborator.
func NewCompactManager(client LLMClient, logger Logger) *CompactManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &CompactManager{client: client, logger: logger}
}

const compactSystemPrompt = `You are a conversation summarizer for a coding assistant.
Summarize the conversation so far into a structured recap with exactly these sections:
## Goals
## Decisions
## Open items
Keep file paths, command names, and error messages verbatim. Be concise.`

// Compact summarizes everything but the last two raw messages into a single
// summary block and returns the replacement history (summary + tail). The
// transformation is explicit rather than in-place splicing so the seam stays
// testable.
func (m *CompactManager) Compact(ctx context.Context, history []Message, meta CompactContext) (CompactResult, []Message) {
	result := CompactResult{OriginalCount: len(history), NewCount: len(history)}

	if len(history) <= compactKeepTail+1 {
		// Nothing old enough to fold away.
		return result, history
	}

	head := history[:len(history)-compactKeepTail]
	tail := history[len(history)-compactKeepTail:]

	summary, err := m.summarize(ctx, head, meta)
	if err != nil {
		m.logger.Warn(ctx, "Compaction failed, keeping original history",
			Field("error", err.Error()),
			Field("messages", len(history)),
		)
		return result, history
	}

	summaryMessage := Message{
		Role:       RoleUser,
		Content:    "[Conversation summary: earlier messages were compacted]\n\n" + summary,
		Timestamp:  time.Now(),
		Summarized: true,
	}

	compacted := make([]Message, 0, 1+len(tail))
	compacted = append(compacted, summaryMessage)
	compacted = append(compacted, tail...)

	result.Success = true
	result.Summary = summary
	result.NewCount = len(compacted)
	return result, compacted
}

func (m *CompactManager) summarize(ctx context.Context, head []Message, meta CompactContext) (string, error) {
	var sb strings.Builder
	if meta.WorkingDirectory != "" {
		fmt.Fprintf(&sb, "Working directory: %s\n", meta.WorkingDirectory)
	}
	if len(meta.RecentFiles) > 0 {
		fmt.Fprintf(&sb, "Recently touched files: %s\n", strings.Join(meta.RecentFiles, ", "))
	}
	if len(meta.Todos) > 0 {
		sb.WriteString("TODO state:\n")
		for _, todo := range meta.Todos {
			fmt.Fprintf(&sb, "- %s [%s] %s\n", todo.ID, todo.Status, todo.Title)
		}
	}
	sb.WriteString("\nConversation to summarize:\n")
	for _, msg := range head {
		content := msg.Content
		if content == "" && len(msg.ToolCalls) > 0 {
			calls := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				calls = append(calls, call.Function.Name)
			}
			content = "(tool calls: " + strings.Join(calls, ", ") + ")"
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, content)
	}

	resp, err := m.client.ChatCompletion(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: compactSystemPrompt},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("compact: summarization call: %w", err)
	}

	summary := strings.TrimSpace(resp.Content())
	if summary == "" {
		return "", fmt.Errorf("compact: summarization returned empty content")
	}
	return summary, nil
}
