// Package monitor is a read-only operator console. It renders the engine's
// event stream: the current phase and how long it has been active, the
// latest liveness metrics, and a scrolling log of recent events.
package monitor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/phase"
)

// DefaultHistory is the number of events kept on screen.
const DefaultHistory = 12

const tickInterval = 250 * time.Millisecond

type eventMsg event.Event

// closedMsg means the subscription channel was closed by the bus.
type closedMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model for the console.
type Model struct {
	events <-chan event.Event
	now    func() time.Time
	limit  int

	phase     phase.Phase
	enteredAt time.Time
	lastError string
	metrics   map[string]any
	watchdog  string
	lastBeat  time.Time
	recent    []event.Event
	received  int
	closed    bool

	width  int
	height int
}

// NewModel creates a Model reading from events.
func NewModel(events <-chan event.Event) Model {
	return Model{
		events: events,
		now:    time.Now,
		limit:  DefaultHistory,
		phase:  phase.Idle,
	}
}

func waitForEvent(events <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts listening and the elapsed-time ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		m.apply(event.Event(msg))
		return m, waitForEvent(m.events)

	case closedMsg:
		m.closed = true
		return m, nil

	case tickMsg:
		if m.closed {
			return m, nil
		}
		return m, tick()
	}
	return m, nil
}

func (m *Model) apply(e event.Event) {
	m.received++
	switch e.Type {
	case event.TypeState:
		if e.Phase != m.phase || m.enteredAt.IsZero() {
			m.enteredAt = e.Time
		}
		m.phase = e.Phase
		m.lastError = e.Error
		if e.Phase == phase.Idle {
			m.metrics = nil
			m.watchdog = ""
		}
	case event.TypeMetrics:
		m.metrics = e.Data
		// Metrics are too chatty for the log.
		return
	case event.TypeWatchdog:
		if action, ok := e.Data["action"].(string); ok {
			m.watchdog = action
		}
	case event.TypeHeartbeat:
		m.lastBeat = e.Time
		return
	}

	m.recent = append(m.recent, e)
	if len(m.recent) > m.limit {
		m.recent = slices.Delete(m.recent, 0, len(m.recent)-m.limit)
	}
}

// View renders the console.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("kioskd monitor"))
	if m.closed {
		b.WriteString(mutedStyle.Render("  (event stream closed)"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderEvents())
	b.WriteString(helpStyle.Render("q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderStatus() string {
	lines := []string{
		labelStyle.Render("phase") + phaseBadge(m.phase),
	}
	if m.phase != phase.Idle && !m.enteredAt.IsZero() {
		elapsed := m.now().Sub(m.enteredAt).Round(100 * time.Millisecond)
		lines = append(lines, labelStyle.Render("elapsed")+elapsed.String())
	}
	if m.lastError != "" {
		lines = append(lines, labelStyle.Render("error")+eventStyle(event.Event{Error: m.lastError}).Render(m.lastError))
	}
	if m.watchdog != "" {
		lines = append(lines, labelStyle.Render("watchdog")+m.watchdog)
	}
	if len(m.metrics) > 0 {
		lines = append(lines, labelStyle.Render("metrics")+formatData(m.metrics))
	}
	if !m.lastBeat.IsZero() {
		lines = append(lines, labelStyle.Render("heartbeat")+m.lastBeat.Format(time.TimeOnly))
	}
	return m.box(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) renderEvents() string {
	if len(m.recent) == 0 {
		return m.box(mutedStyle.Render("waiting for events..."))
	}
	lines := make([]string, 0, len(m.recent))
	for i := len(m.recent) - 1; i >= 0; i-- {
		lines = append(lines, formatEvent(m.recent[i]))
	}
	return m.box(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) box(content string) string {
	style := boxStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(content)
}

func formatEvent(e event.Event) string {
	line := fmt.Sprintf("%s %-9s %-16s", e.Time.Format(time.TimeOnly), e.Type, e.Phase)
	if len(e.Data) > 0 {
		line += " " + formatData(e.Data)
	}
	if e.Error != "" {
		line += " error=" + e.Error
	}
	return eventStyle(e).Render(line)
}

// formatData renders a payload as sorted key=value pairs. Large values such
// as QR payloads are abbreviated.
func formatData(data map[string]any) string {
	keys := slices.Sorted(maps.Keys(data))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := data[k].(type) {
		case float64:
			v = fmt.Sprintf("%.3g", val)
		case map[string]any, []any:
			v = "{…}"
		default:
			v = fmt.Sprint(val)
		}
		if len(v) > 24 {
			v = v[:21] + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// Run shows the console until ctx is done or the operator quits.
func Run(ctx context.Context, events <-chan event.Event, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewModel(events), opts...)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
