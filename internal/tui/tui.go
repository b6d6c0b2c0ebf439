// Package tui is the interactive terminal surface: a transcript viewport, a
// prompt textarea, an inline TODO panel, and an in-UI approval prompt for
// risky tool calls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	glam "github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/lococli/loco/internal/core/agent"
	"github.com/lococli/loco/internal/core/risk"
)

// Options wires the terminal surface to the engine. BuildExecutor receives
// the UI's approver and observer so approval prompts and events land in the
// transcript.
type Options struct {
	BuildExecutor func(approver risk.Approver, observer agent.Observer) (*agent.PlanExecutor, error)
	Model         string
	WorkingDir    string
	AutoApprove   bool
}

type eventMsg struct{ evt agent.Event }

type runDoneMsg struct {
	result agent.RunResult
	err    error
}

// approvalMsg surfaces a pending risk decision to the UI loop.
type approvalMsg struct {
	req   risk.Request
	reply chan risk.Decision
}

type transcriptKind int

const (
	itemPlain transcriptKind = iota
	itemUser
	itemAssistantMD
	itemTodo
)

type transcriptItem struct {
	kind transcriptKind
	text string
}

type model struct {
	executor *agent.PlanExecutor
	events   chan agent.Event
	approves chan approvalMsg
	cancel   context.CancelFunc

	vp     viewport.Model
	ta     textarea.Model
	spin   spinner.Model
	glam   *glam.TermRenderer
	width  int
	height int
	ready  bool

	running  bool
	modelID  string
	items    []transcriptItem
	todoIdx  int
	pending  *approvalMsg
	quitting bool

	border     lipgloss.Style
	userStyle  lipgloss.Style
	todoStyle  lipgloss.Style
	dimStyle   lipgloss.Style
	errStyle   lipgloss.Style
	alertStyle lipgloss.Style
}

func newModel(executor *agent.PlanExecutor, events chan agent.Event, approves chan approvalMsg, cancel context.CancelFunc, modelID string) *model {
	ta := textarea.New()
	ta.Placeholder = "Type a prompt… (Enter to send, Esc to interrupt)"
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	m := &model{
		executor: executor,
		events:   events,
		approves: approves,
		cancel:   cancel,
		ta:       ta,
		spin:     sp,
		modelID:  modelID,
		todoIdx:  -1,
		border:   lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")),
		userStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("129")).
			Foreground(lipgloss.Color("252")).
			PaddingLeft(1).
			PaddingRight(1),
		todoStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Foreground(lipgloss.Color("252")).
			PaddingLeft(1).
			PaddingRight(1),
		dimStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		errStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		alertStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
	_ = m.rebuildRenderer(80)
	return m
}

func waitForEvent(events chan agent.Event, approves chan approvalMsg) tea.Cmd {
	return func() tea.Msg {
		select {
		case evt := <-events:
			return eventMsg{evt: evt}
		case req := <-approves:
			return req
		}
	}
}

func (m *model) rebuildRenderer(wrap int) error {
	if wrap < 10 {
		wrap = 10
	}
	r, err := glam.NewTermRenderer(
		glam.WithStylePath("dark"),
		glam.WithWordWrap(wrap),
	)
	if err != nil {
		return err
	}
	m.glam = r
	return nil
}

func (m *model) renderTranscript() string {
	var out strings.Builder
	blockWidth := m.vp.Width - 4
	if blockWidth < 1 {
		blockWidth = 1
	}
	for _, it := range m.items {
		switch it.kind {
		case itemUser:
			block := m.userStyle.Width(blockWidth).Render(it.text)
			out.WriteString(block)
			out.WriteString("\n")
		case itemTodo:
			block := m.todoStyle.Width(blockWidth).Render(it.text)
			out.WriteString(block)
			out.WriteString("\n")
		case itemAssistantMD:
			if m.glam == nil {
				out.WriteString(it.text)
			} else if rendered, err := m.glam.Render(it.text); err == nil {
				out.WriteString(rendered)
			} else {
				out.WriteString(it.text)
			}
			if !strings.HasSuffix(out.String(), "\n") {
				out.WriteString("\n")
			}
		default:
			out.WriteString(it.text)
		}
	}
	return out.String()
}

func (m *model) refresh() {
	m.vp.SetContent(m.renderTranscript())
	m.vp.GotoBottom()
}

func (m *model) recalcLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	inner := m.width - 2
	if inner < 1 {
		inner = 1
	}
	m.ta.SetWidth(inner)
	vpH := m.height - 7
	if vpH < 3 {
		vpH = 3
	}
	m.vp.Width = m.width - 2
	m.vp.Height = vpH
	_ = m.rebuildRenderer(m.vp.Width - 2)
}

func (m *model) appendLine(s string) {
	m.items = append(m.items, transcriptItem{kind: itemPlain, text: s})
	m.refresh()
}

// setTodoPanel anchors or updates the inline TODO panel for this run.
func (m *model) setTodoPanel(text string) {
	if m.todoIdx >= 0 && m.todoIdx < len(m.items) {
		m.items[m.todoIdx].text = text
	} else {
		m.items = append(m.items, transcriptItem{kind: itemTodo, text: text})
		m.todoIdx = len(m.items) - 1
	}
	m.refresh()
}

func (m *model) startRun(prompt string) tea.Cmd {
	m.items = append(m.items, transcriptItem{kind: itemUser, text: prompt})
	m.todoIdx = -1
	m.running = true
	m.refresh()

	executor := m.executor
	return func() tea.Msg {
		result, err := executor.Run(context.Background(), prompt)
		return runDoneMsg{result: result, err: err}
	}
}

func (m *model) handleEvent(evt agent.Event) {
	switch evt.Type {
	case agent.EventAssistant:
		if strings.TrimSpace(evt.Message) != "" {
			m.items = append(m.items, transcriptItem{kind: itemAssistantMD, text: evt.Message})
			m.refresh()
		}
	case agent.EventTodo:
		if evt.Message != "" {
			m.setTodoPanel(evt.Message)
		}
	case agent.EventStatus:
		m.appendLine(m.dimStyle.Render("· "+evt.Message) + "\n")
	case agent.EventToolCall:
		m.appendLine(m.dimStyle.Render("→ "+evt.Message) + "\n")
	case agent.EventToolResult:
		// Tool output is folded into the next assistant message; show only
		// failures.
		if evt.Level == agent.StatusLevelWarn {
			m.appendLine(m.dimStyle.Render("  "+firstLine(evt.Message)) + "\n")
		}
	case agent.EventCompaction:
		m.appendLine(m.dimStyle.Render("◦ "+evt.Message) + "\n")
	case agent.EventInterrupted:
		m.appendLine(m.alertStyle.Render("! "+evt.Message) + "\n")
	case agent.EventError:
		m.appendLine(m.errStyle.Render("error: ") + evt.Message + "\n")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (m *model) resolveApproval(decision risk.Decision) {
	if m.pending == nil {
		return
	}
	m.pending.reply <- decision
	m.pending = nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events, m.approves), textarea.Blink, m.spin.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if m.pending == nil {
		m.ta, cmd = m.ta.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.spin, cmd = m.spin.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		m.ready = true
		m.refresh()
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.pending != nil {
			switch strings.ToLower(msg.String()) {
			case "y":
				m.resolveApproval(risk.DecisionApprove)
			case "n":
				m.resolveApproval(risk.DecisionReject)
			case "a":
				m.resolveApproval(risk.DecisionApproveAll)
			case "r":
				m.resolveApproval(risk.DecisionRejectAll)
			case "s", "esc":
				m.resolveApproval(risk.DecisionStop)
			case "ctrl+c":
				m.resolveApproval(risk.DecisionStop)
				m.quitting = true
			}
			return m, tea.Batch(append(cmds, waitForEvent(m.events, m.approves))...)
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			if m.running {
				m.executor.Interrupt()
				m.quitting = true
				return m, tea.Batch(cmds...)
			}
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.running {
				m.executor.Interrupt()
				return m, tea.Batch(cmds...)
			}
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.running {
				return m, tea.Batch(cmds...)
			}
			prompt := strings.TrimSpace(m.ta.Value())
			if prompt == "" {
				return m, tea.Batch(cmds...)
			}
			m.ta.Reset()
			return m, tea.Batch(append(cmds, m.startRun(prompt))...)
		}
		return m, tea.Batch(cmds...)

	case eventMsg:
		m.handleEvent(msg.evt)
		return m, tea.Batch(append(cmds, waitForEvent(m.events, m.approves))...)

	case approvalMsg:
		pending := msg
		m.pending = &pending
		return m, tea.Batch(cmds...)

	case runDoneMsg:
		m.running = false
		m.todoIdx = -1
		if msg.err != nil {
			m.appendLine(m.errStyle.Render("run failed: ") + msg.err.Error() + "\n")
		} else if msg.result.Response != "" {
			m.items = append(m.items, transcriptItem{kind: itemAssistantMD, text: msg.result.Response})
			m.refresh()
		}
		if m.quitting {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, tea.Batch(cmds...)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "Initializing…"
	}

	top := m.border.Render(m.vp.View())

	var status string
	switch {
	case m.pending != nil:
		req := m.pending.req
		status = m.alertStyle.Render(fmt.Sprintf("%s risk (%s): %s", req.Assessment.Level, req.Assessment.Category, firstLine(req.Description))) +
			"\n" + m.dimStyle.Render("[y]es  [n]o  [a]pprove all  [r]eject all  [s]top")
	case m.running:
		usage := m.executor.Usage()
		status = m.spin.View() + m.dimStyle.Render(fmt.Sprintf(" working · %s · context %.0f%% free", m.executor.Phase(), usage.RemainingPercentage))
	default:
		status = m.dimStyle.Render(m.modelID + " · ready")
	}

	bottom := m.border.Render(status + "\n" + m.ta.View())
	return top + "\n" + bottom
}

// Run launches the interactive surface and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	if opts.BuildExecutor == nil {
		return fmt.Errorf("tui: BuildExecutor is required")
	}

	// Fixed color profile; OSC background queries would contaminate stdin.
	lipgloss.SetColorProfile(termenv.TrueColor)
	lipgloss.SetHasDarkBackground(true)

	events := make(chan agent.Event, 256)
	approves := make(chan approvalMsg)

	observer := agent.ObserverFunc(func(evt agent.Event) {
		select {
		case events <- evt:
		case <-time.After(time.Second):
			// UI stalled; drop rather than deadlock the run.
		}
	})

	var approver risk.Approver
	if opts.AutoApprove {
		approver = risk.AutoApprover{}
	} else {
		approver = risk.ApproverFunc(func(ctx context.Context, req risk.Request) (risk.Decision, error) {
			reply := make(chan risk.Decision, 1)
			select {
			case approves <- approvalMsg{req: req, reply: reply}:
			case <-ctx.Done():
				return risk.DecisionReject, ctx.Err()
			}
			select {
			case decision := <-reply:
				return decision, nil
			case <-ctx.Done():
				return risk.DecisionReject, ctx.Err()
			}
		})
	}

	executor, err := opts.BuildExecutor(approver, observer)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		newModel(executor, events, approves, cancel, opts.Model),
		tea.WithAltScreen(),
		tea.WithContext(runCtx),
	)
	if _, err := p.Run(); err != nil && runCtx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
