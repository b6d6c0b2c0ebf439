package agent

// EventType names an executor event.
type EventType string

const (
	EventStatus      EventType = "status"
	EventAssistant   EventType = "assistant_message"
	EventTodo        EventType = "todo"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventApproval    EventType = "approval"
	EventCompaction  EventType = "compaction"
	EventError       EventType = "error"
	EventInterrupted EventType = "interrupted"
	EventDone        EventType = "done"
)

// StatusLevel conveys severity for status and error events.
type StatusLevel string

const (
	StatusLevelInfo  StatusLevel = "info"
	StatusLevelWarn  StatusLevel = "warn"
	StatusLevelError StatusLevel = "error"
)

// Event is one observable step of an executor run. Hosts (the terminal
// surface, the eval mode) consume these instead of reaching into executor
// state.
type Event struct {
	Type     EventType
	Message  string
	Level    StatusLevel
	Metadata map[string]any
}

// Observer receives executor events. Implementations must be fast; the
// executor emits synchronously on its own goroutine.
type Observer interface {
	Emit(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Emit implements Observer.
func (f ObserverFunc) Emit(evt Event) { f(evt) }

// NopObserver discards all events.
type NopObserver struct{}

// Emit implements Observer.
func (NopObserver) Emit(Event) {}
